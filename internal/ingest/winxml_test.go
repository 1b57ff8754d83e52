package ingest

import (
	"strings"
	"testing"
	"time"
)

const securityXML = `<Events>
<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event">
  <System>
    <Provider Name="Microsoft-Windows-Security-Auditing"/>
    <EventID>4625</EventID>
    <TimeCreated SystemTime="2025-07-25T22:34:12.5000000Z"/>
    <Computer>DC01</Computer>
  </System>
  <EventData>
    <Data Name="TargetUserName">administrator</Data>
    <Data Name="IpAddress">::ffff:203.0.113.5</Data>
    <Data Name="LogonType">3</Data>
  </EventData>
</Event>
<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event">
  <System>
    <EventID>4624</EventID>
    <TimeCreated SystemTime="2025-07-25T22:34:13.0000000Z"/>
  </System>
  <EventData>
    <Data Name="TargetUserName">alice</Data>
    <Data Name="IpAddress">198.51.100.1</Data>
  </EventData>
</Event>
<Event xmlns="http://schemas.microsoft.com/win/2004/08/events/event">
  <System>
    <EventID Qualifiers="0">4625</EventID>
    <TimeCreated SystemTime="2025-07-25T22:35:00.0000000Z"/>
  </System>
  <EventData>
    <Data Name="TargetUserName"></Data>
    <Data Name="IpAddress">-</Data>
  </EventData>
</Event>
</Events>`

func TestReadWindowsXML(t *testing.T) {
	res, err := Read(strings.NewReader(securityXML), PlatformWindows, Options{Location: time.UTC}, nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.Records != 3 || len(res.Events) != 2 {
		t.Fatalf("records=%d events=%d", res.Records, len(res.Events))
	}
	first := res.Events[0]
	if first.Username != "administrator" || first.IP != "203.0.113.5" {
		t.Fatalf("unexpected event: %+v", first)
	}
	if !first.Timestamp.Equal(time.Date(2025, 7, 25, 22, 34, 12, 500000000, time.UTC)) {
		t.Fatalf("timestamp: %s", first.Timestamp)
	}
	if !strings.Contains(first.Raw, "Computer=DC01") {
		t.Fatalf("raw: %s", first.Raw)
	}
	second := res.Events[1]
	if second.Username != "-" || second.IP != "-" {
		t.Fatalf("missing values should be '-': %+v", second)
	}
}

func TestReadWindowsXMLBareEvents(t *testing.T) {
	body := strings.TrimSuffix(strings.TrimPrefix(securityXML, "<Events>\n"), "</Events>")
	res, err := ReadWindowsXML(strings.NewReader(body), Options{}, nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("events=%d", len(res.Events))
	}
}
