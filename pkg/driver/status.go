// pkg/driver/status.go
package driver

import (
	"strconv"
	"strings"
	"time"

	"dnc-service/internal/model"
)

// first returns the value of the first key present
func first(fields map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			return v
		}
	}
	return ""
}

// StatusFromPairs maps decoded status fields onto a DeviceStatus.
// Unknown keys are ignored and numeric fields that fail to parse stay zero.
func StatusFromPairs(fields map[string]string, raw string) *model.DeviceStatus {
	status := &model.DeviceStatus{
		MachineType: first(fields, "machine_type", "type"),
		Status:      first(fields, "status", "state"),
		Mode:        fields["mode"],
		ProgramName: first(fields, "program", "program_name"),
		Alarms:      []string{},
		Raw:         raw,
		ReceivedAt:  time.Now(),
	}
	if v, err := strconv.Atoi(first(fields, "line", "line_number")); err == nil {
		status.LineNumber = v
	}
	if v, err := strconv.ParseFloat(first(fields, "feed", "feed_rate"), 64); err == nil {
		status.FeedRate = v
	}
	if v, err := strconv.ParseFloat(first(fields, "spindle", "spindle_speed"), 64); err == nil {
		status.SpindleSpeed = v
	}
	if alarms := strings.TrimSpace(fields["alarms"]); alarms != "" {
		for _, a := range strings.Split(alarms, "|") {
			if a = strings.TrimSpace(a); a != "" {
				status.Alarms = append(status.Alarms, a)
			}
		}
	}
	return status
}
