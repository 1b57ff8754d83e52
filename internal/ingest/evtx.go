package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/0xrawsec/golang-evtx/evtx"

	"authwatch/internal/model"
	"authwatch/internal/normalize"
)

// evtxMagic opens every binary event log file.
var evtxMagic = []byte("ElfFile\x00")

var (
	evtxSystemTime = evtx.Path("/Event/System/TimeCreated/SystemTime")
	evtxComputer   = evtx.Path("/Event/System/Computer")
	evtxUser       = evtx.Path("/Event/EventData/TargetUserName")
	evtxIP         = evtx.Path("/Event/EventData/IpAddress")
)

// evtxRecord is the part of *evtx.GoEvtxMap read here.
type evtxRecord interface {
	EventID() int64
	GetString(path *evtx.GoEvtxPath) (string, error)
	GetTime(path *evtx.GoEvtxPath) (time.Time, error)
}

// readWindows sniffs the input: binary .evtx files go to ReadEvtx, anything
// else is parsed as an XML export.
func readWindows(r io.Reader, opts Options, logger *slog.Logger) (Result, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(evtxMagic))
	if err != nil && err != io.EOF {
		return Result{}, err
	}
	if bytes.Equal(magic, evtxMagic) {
		return ReadEvtx(br, opts, logger)
	}
	return ReadWindowsXML(br, opts, logger)
}

// ReadEvtx parses a binary Security .evtx file. The whole input is buffered
// because the chunk reader needs to seek; API bodies are already capped.
func ReadEvtx(r io.Reader, opts Options, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, err
	}
	ef, err := evtx.New(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("evtx: %w", err)
	}
	var res Result
	norm := opts.normalize(model.OriginWindows)
	for rec := range ef.Events() {
		res.addEvtx(rec, norm, logger)
	}
	return res, nil
}

func (r *Result) addEvtx(rec evtxRecord, norm normalize.Options, logger *slog.Logger) {
	r.Records++
	if fields, ok := evtxEvent(rec).failure(); ok {
		r.add(&fields, norm, logger)
	}
}

// evtxEvent converts a parsed record into the shape the XML reader decodes,
// so both inputs share one 4625 mapping.
func evtxEvent(rec evtxRecord) winEvent {
	var ev winEvent
	ev.System.EventID = strconv.FormatInt(rec.EventID(), 10)
	if ts, err := rec.GetTime(&evtxSystemTime); err == nil {
		ev.System.TimeCreated.SystemTime = ts.UTC().Format(time.RFC3339Nano)
	} else if s, err := rec.GetString(&evtxSystemTime); err == nil {
		ev.System.TimeCreated.SystemTime = s
	}
	if s, err := rec.GetString(&evtxComputer); err == nil {
		ev.System.Computer = s
	}
	if s, err := rec.GetString(&evtxUser); err == nil {
		ev.Data = append(ev.Data, winData{Name: "TargetUserName", Value: s})
	}
	if s, err := rec.GetString(&evtxIP); err == nil {
		ev.Data = append(ev.Data, winData{Name: "IpAddress", Value: s})
	}
	return ev
}
