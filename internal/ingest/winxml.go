package ingest

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"authwatch/internal/model"
	"authwatch/internal/normalize"
)

// EventLogonFailure is the Security log event for a failed logon.
const EventLogonFailure = "4625"

type winEvent struct {
	System struct {
		EventID     string `xml:"EventID"`
		TimeCreated struct {
			SystemTime string `xml:"SystemTime,attr"`
		} `xml:"TimeCreated"`
		Computer string `xml:"Computer"`
	} `xml:"System"`
	Data []winData `xml:"EventData>Data"`
}

type winData struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:",chardata"`
}

func (e winEvent) data(name string) string {
	for _, d := range e.Data {
		if d.Name == name {
			return strings.TrimSpace(d.Value)
		}
	}
	return ""
}

// ReadWindowsXML parses Security events exported as XML, either by
// `wevtutil qe Security /f:xml` (bare <Event> elements) or by Get-WinEvent
// ToXml() inside an <Events> wrapper. Only event 4625 becomes a failure.
func ReadWindowsXML(r io.Reader, opts Options, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var res Result
	dec := xml.NewDecoder(r)
	dec.Strict = false
	norm := opts.normalize(model.OriginWindows)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Event" {
			continue
		}
		var ev winEvent
		if err := dec.DecodeElement(&ev, &start); err != nil {
			return res, fmt.Errorf("xml event %d: %w", res.Records+1, err)
		}
		res.Records++
		if fields, ok := ev.failure(); ok {
			res.add(&fields, norm, logger)
		}
	}
}

// failure maps a 4625 event onto the normalizer input.
func (e winEvent) failure() (normalize.EventFields, bool) {
	if strings.TrimSpace(e.System.EventID) != EventLogonFailure {
		return normalize.EventFields{}, false
	}
	return normalize.EventFields{
		Timestamp: e.System.TimeCreated.SystemTime,
		IP:        orMissing(e.data("IpAddress")),
		Username:  orMissing(e.data("TargetUserName")),
		Origin:    string(model.OriginWindows),
		Raw:       winRaw(e),
	}, true
}

func orMissing(v string) string {
	if v == "" {
		return normalize.Missing
	}
	return v
}

func winRaw(ev winEvent) string {
	var b strings.Builder
	b.WriteString("EventID=")
	b.WriteString(strings.TrimSpace(ev.System.EventID))
	if ev.System.Computer != "" {
		b.WriteString(" Computer=")
		b.WriteString(ev.System.Computer)
	}
	for _, d := range ev.Data {
		if d.Name == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(d.Name)
		b.WriteString("=")
		b.WriteString(strings.TrimSpace(d.Value))
	}
	return b.String()
}
