package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
)

// StepPrinterFunc returns a router handler writing streamed deltas to w as
// they arrive. name, when set, is printed once before the first delta. A
// final event without preceding deltas prints the whole text.
func StepPrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	isFirst := true
	streamed := false

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		switch p_ := e.(type) {
		case *EventPartialCompletion:
			if isFirst && name != "" {
				isFirst = false
				if _, err := fmt.Fprintf(w, "\n%s: \n", name); err != nil {
					return err
				}
			}
			streamed = true
			if _, err := fmt.Fprintf(w, "%s", p_.Delta); err != nil {
				return err
			}

		case *EventFinal:
			if !streamed {
				if _, err := fmt.Fprintf(w, "%s", p_.Text); err != nil {
					return err
				}
			}
			streamed = false
			return endLine(w, p_.Text)

		case *EventInterrupt:
			streamed = false
			if err := endLine(w, p_.Text); err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, "[interrupted]"); err != nil {
				return err
			}

		case *EventError:
			streamed = false
			if err := endLine(w, p_.Text); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "[error] %s\n", p_.ErrorString); err != nil {
				return err
			}
		}

		return nil
	}
}

func endLine(w io.Writer, text string) error {
	if text == "" || strings.HasSuffix(text, "\n") {
		return nil
	}
	_, err := fmt.Fprintf(w, "\n")
	return err
}
