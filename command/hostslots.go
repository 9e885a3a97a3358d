package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"maixu-system/models"
)

var slotLine = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})(.*)$`)

// ParseHostSlots expands a schedule description into per-hour host
// slots. Each non-empty line reads "start-end description", hours
// inclusive on both ends, e.g. "0-2晚间档". Overlapping hours across
// lines are a configuration error.
func ParseHostSlots(group, raw string) ([]models.HostSlot, error) {
	var slots []models.HostSlot
	seen := make(map[int]bool)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := slotLine.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("malformed host slot line %q", line)
		}
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		desc := strings.TrimSpace(m[3])
		if start > 23 || end > 23 {
			return nil, fmt.Errorf("host slot hours out of range in %q", line)
		}
		if end < start {
			return nil, fmt.Errorf("host slot end before start in %q", line)
		}
		for hour := start; hour <= end; hour++ {
			if seen[hour] {
				return nil, fmt.Errorf("host slot hour %d assigned twice", hour)
			}
			seen[hour] = true
			slots = append(slots, models.HostSlot{
				Group:     group,
				StartHour: hour,
				EndHour:   (hour + 1) % 24,
				HostDesc:  desc,
				Stage:     models.StageStart,
			})
		}
	}
	return slots, nil
}
