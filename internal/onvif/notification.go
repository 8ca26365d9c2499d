package onvif

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"
)

// Notification is one parsed event from an inbound Notify callback. It is
// ephemeral: consumed by the dispatcher and never persisted.
type Notification struct {
	// Topic is the event topic, e.g. tns1:RuleEngine/CellMotionDetector/Motion.
	Topic string
	// UTCTime is the event timestamp; zero when the camera sent none or an
	// unparsable value.
	UTCTime time.Time
	// Source holds the named simple items of the message source set.
	Source map[string]string
	// Data holds the named simple items of the message data set.
	Data map[string]string
}

// Rule returns the Rule source item, or "" when absent.
func (n Notification) Rule() string {
	return n.Source["Rule"]
}

// Motion interprets the IsMotion data item. ok is false when the item is
// missing or not a literal true/false; such notifications carry no state
// change and must not be dispatched.
func (n Notification) Motion() (on, ok bool) {
	switch strings.ToLower(n.Data["IsMotion"]) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

// utcTimeLayouts are the timestamp shapes seen across camera firmwares.
var utcTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999Z",
	"2006-01-02T15:04:05",
}

type simpleItem struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:"Value,attr"`
}

// notifyEnvelope matches wsnt:Notify bodies by local names. The inner
// tt:Message nests under wsnt:Message, hence Message>Message.
type notifyEnvelope struct {
	Body struct {
		Notify struct {
			Messages []struct {
				Topic   string `xml:"Topic"`
				Message struct {
					Inner struct {
						UtcTime string `xml:"UtcTime,attr"`
						Source  struct {
							Items []simpleItem `xml:"SimpleItem"`
						} `xml:"Source"`
						Data struct {
							Items []simpleItem `xml:"SimpleItem"`
						} `xml:"Data"`
					} `xml:"Message"`
				} `xml:"Message"`
			} `xml:"NotificationMessage"`
		} `xml:"Notify"`
	} `xml:"Body"`
}

// ParseNotifications decodes an inbound Notify body. A single callback may
// batch several notification messages.
func ParseNotifications(r io.Reader) ([]Notification, error) {
	var env notifyEnvelope
	if err := xml.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode notify body: %w", err)
	}

	notifications := make([]Notification, 0, len(env.Body.Notify.Messages))

	for _, msg := range env.Body.Notify.Messages {
		n := Notification{
			Topic:   strings.TrimSpace(msg.Topic),
			UTCTime: parseUtcTime(msg.Message.Inner.UtcTime),
			Source:  itemMap(msg.Message.Inner.Source.Items),
			Data:    itemMap(msg.Message.Inner.Data.Items),
		}
		notifications = append(notifications, n)
	}

	return notifications, nil
}

func itemMap(items []simpleItem) map[string]string {
	m := make(map[string]string, len(items))
	for _, item := range items {
		m[item.Name] = item.Value
	}

	return m
}

func parseUtcTime(raw string) time.Time {
	for _, layout := range utcTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}

	return time.Time{}
}
