// Package arcl implements a client for ARCL, the line-oriented text protocol
// spoken by robot and fleet controllers over a persistent TCP connection.
//
// Protocol Format:
//
//	Command (client -> server):  <verb> [arguments...]\r\n
//	Async line (server -> client): <Keyword>: <fields...>\r\n
//	Multi-line reply terminator:   End<Keyword> or EndOf<Keyword>
//
// Example Session:
//
//	SRV: Enter password:
//	CLI: adept
//	SRV: ...command list...
//	SRV: End of commands
//	CLI: queueShowRobot
//	SRV: QueueRobot: "21" Available Available ""
//	SRV: EndQueueShowRobot
//
// # Overview
//
// A Conn owns the TCP socket and the login exchange. Once connected, its
// receive loop splits incoming text into lines, classifies each line by
// prefix (see Classify) and fans it out to subscribers. Trackers subscribe
// to the categories they care about and keep an eventually consistent view
// of server state:
//
//   - JobTracker: jobs and their pickup/dropoff goals (queueShow)
//   - RobotTracker: robot availability (queueShowRobot)
//   - ExtIOSync: external IO sets reconciled against a desired layout
//   - StatusPoller: onelinestatus and range devices at a fixed rate
//   - ConfigReader: config section rows (getconfigsectionvalues)
//
// Writes return as soon as the bytes are on the socket. Replies arrive
// later on the receive goroutine, so callers wait for a tracker's in-sync
// or completion callback rather than a write's return value.
//
// # Basic Usage
//
//	conn, err := arcl.Dial(ctx, "192.168.1.10:7171:adept",
//	    arcl.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	jobs := arcl.NewJobTracker(conn)
//	jobs.SetJobCompleteHandler(func(job arcl.Job, goal arcl.Goal) {
//	    fmt.Printf("job %s %s\n", job.ID, job.Status())
//	})
//	if err := jobs.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Errors
//
// Dial and login failures are *ConnectionError values wrapping
// ErrAuthenticationFailed or ErrTimeout. Socket write failures are
// *IOError. Lines that match a category but fail field-level parsing are
// logged at debug level, counted, and dropped; they never reach
// subscribers and never stop the receive loop.
//
// # Thread Safety
//
// Conn and every tracker are safe for concurrent use. Line handlers run on
// the receive goroutine and must not block or call Conn.StopReceiving.
package arcl
