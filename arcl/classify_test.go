package arcl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want Category
	}{
		{`QueueRobot: "21" Available Available ""`, CategoryQueueRobot},
		{"EndQueueShowRobot", CategoryQueueRobot},
		{"queueshowrobot", CategoryQueueRobot},
		{`QueueShow: PICKUP3 JOB3 10 Completed None Goal "1" "21" 11/14/2012 11:49:23 11/14/2012 11:49:23 "" 0`, CategoryQueueJob},
		{"EndQueueShow", CategoryQueueJob},
		{"QueueMulti: goal \"x\" with priority 10 id PICKUP1 and job_id JOB1 successfully queued", CategoryQueueJob},
		{"ExtIODump: A with 8 input(s), value = 0x00 and 8 output(s), value = 0x00", CategoryExtIO},
		{"EndExtIODump", CategoryExtIO},
		{"extIOInputUpdate: input A updated with 0x01 from 1", CategoryExtIO},
		{"CommandError: extIOOutputUpdate bad", CategoryExtIO},
		{"GetConfigSectionValue: Radius 250", CategoryConfigSection},
		{"EndOfGetConfigSectionValues", CategoryConfigSection},
		{"Status: Stopped StateOfCharge: 80", CategoryStatus},
		{"status: lower case", CategoryStatus},
		{"RangeDeviceGetCurrent: Laser_1 0", CategoryRangeDeviceCurrent},
		{"RangeDeviceGetCumulative: Laser_1 0", CategoryRangeDeviceCumulative},
		{"Goal: Goal1", CategoryNone},
		{"Arrived at Goal1", CategoryNone},
		{"", CategoryNone},
		// Robot precedence wins over the job queue.
		{`QueueUpdate: PICKUP1 J1 10 InProgress Driving Goal "g" "Robot7" None None None None 0`, CategoryQueueRobot},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.line))
		})
	}
}

func TestCategoryString(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range Categories {
		s := c.String()
		assert.NotEqual(t, "raw", s)
		assert.False(t, seen[s], "duplicate name %s", s)
		seen[s] = true
	}
	assert.Equal(t, "raw", CategoryNone.String())
}

func TestParseCategory(t *testing.T) {
	for _, c := range append([]Category{CategoryNone}, Categories...) {
		got, ok := ParseCategory(c.String())
		assert.True(t, ok, c.String())
		assert.Equal(t, c, got)
	}
	_, ok := ParseCategory("queue")
	assert.False(t, ok)
}

func TestSplitFields(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`a b  c`, []string{"a", "b", "c"}},
		{`Goal "1" "21" "" 0`, []string{"Goal", "1", "21", "", "0"}},
		{`goal "two words" x`, []string{"goal", "two words", "x"}},
		{"  \t", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, splitFields(tt.in))
		})
	}
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitLines("a\r\nb\n\r\nc\r"))
	assert.Empty(t, splitLines("\r\n"))
}
