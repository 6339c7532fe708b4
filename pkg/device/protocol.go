package device

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Line prefixes emitted by the sensor firmware.
const (
	prefixSuccess = "SUCCESS:"
	prefixFound   = "FOUND:"
	prefixError   = "ERROR:"
	prefixStatus  = "STATUS:"
	prefixCount   = "COUNT:"
)

// Commands understood by the sensor firmware.
const (
	cmdEnroll = "ENROLL"
	cmdVerify = "VERIFY"
	cmdDelete = "DELETE"
)

// EventKind classifies a decoded inbound line.
type EventKind int

const (
	EventNoise EventKind = iota
	EventEnrollSuccess
	EventMatchFound
	EventDeviceError
	EventStatus
	EventCount
)

var eventKindNames = map[EventKind]string{
	EventNoise:         "noise",
	EventEnrollSuccess: "enroll_success",
	EventMatchFound:    "match_found",
	EventDeviceError:   "device_error",
	EventStatus:        "status",
	EventCount:         "count",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is one decoded line. Only the fields relevant to Kind are set.
type Event struct {
	Kind       EventKind
	TemplateID int
	Message    string
	Value      string
	Count      int
	Raw        string
}

// Terminal reports whether the event can resolve a pending operation.
func (e Event) Terminal() bool {
	switch e.Kind {
	case EventEnrollSuccess, EventMatchFound, EventDeviceError:
		return true
	default:
		return false
	}
}

// Decode maps one received line to an Event. Unknown lines and malformed
// numeric payloads decode to EventNoise.
func Decode(line string) Event {
	msg := strings.TrimSpace(line)
	ev := Event{Kind: EventNoise, Raw: msg}

	switch {
	case strings.HasPrefix(msg, prefixSuccess):
		id, ok := parseInt(msg, prefixSuccess)
		if !ok {
			return ev
		}
		ev.Kind = EventEnrollSuccess
		ev.TemplateID = id
	case strings.HasPrefix(msg, prefixFound):
		id, ok := parseInt(msg, prefixFound)
		if !ok {
			return ev
		}
		ev.Kind = EventMatchFound
		ev.TemplateID = id
	case strings.HasPrefix(msg, prefixError):
		ev.Kind = EventDeviceError
		ev.Message = strings.TrimSpace(msg[len(prefixError):])
	case strings.HasPrefix(msg, prefixStatus):
		ev.Kind = EventStatus
		ev.Value = strings.TrimSpace(msg[len(prefixStatus):])
	case strings.HasPrefix(msg, prefixCount):
		n, ok := parseInt(msg, prefixCount)
		if !ok {
			return ev
		}
		ev.Kind = EventCount
		ev.Count = n
	}
	return ev
}

func parseInt(msg, prefix string) (int, bool) {
	payload := strings.TrimSpace(msg[len(prefix):])
	n, err := strconv.Atoi(payload)
	if err != nil {
		log.Debug().Str("line", msg).Err(err).Msg("device: malformed numeric payload, treating as noise")
		return 0, false
	}
	return n, true
}

// EnrollCommand builds the ENROLL command line for id.
func EnrollCommand(id int) string {
	return cmdEnroll + ":" + strconv.Itoa(id)
}

// VerifyCommand builds the VERIFY command line.
func VerifyCommand() string {
	return cmdVerify
}

// DeleteCommand builds the DELETE command line for id.
func DeleteCommand(id int) string {
	return cmdDelete + ":" + strconv.Itoa(id)
}
