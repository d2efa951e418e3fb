// Package loghandler lets session clients, typically browsers, report their
// own connection events into the relay log.
package loghandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
)

const maxReportSize = 64 << 10

type Level uint8

const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
)

func (l *Level) UnmarshalText(text []byte) error {
	switch string(text) {
	case "debug":
		*l = DEBUG
	case "info":
		*l = INFO
	case "warning", "warn":
		*l = WARNING
	case "error":
		*l = ERROR
	default:
		return fmt.Errorf("invalid log level: '%s'", text)
	}
	return nil
}

func (l Level) MarshalText() ([]byte, error) {
	switch l {
	case DEBUG:
		return []byte("debug"), nil
	case INFO:
		return []byte("info"), nil
	case WARNING:
		return []byte("warning"), nil
	case ERROR:
		return []byte("error"), nil
	}
	return nil, errors.New("invalid log level")
}

// Report is one line from a client. ClientID is the id the client was
// welcomed with, if any.
type Report struct {
	Level    Level  `json:"level"`
	Message  string `json:"message"`
	Logger   string `json:"logger"`
	ClientID string `json:"client_id,omitempty"`
}

func (r Report) origin() string {
	logger := r.Logger
	if logger == "" {
		logger = "client"
	}
	if r.ClientID == "" {
		return logger
	}
	return logger + "/" + r.ClientID
}

// Func logs every posted Report using ancli, at the level of the report
func Func() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var rep Report
		if err := json.NewDecoder(io.LimitReader(r.Body, maxReportSize)).Decode(&rep); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		msg := fmt.Sprintf("[%v]: %v", rep.origin(), rep.Message)
		switch rep.Level {
		case DEBUG:
			ancli.Noticef("%v", msg)
		case INFO:
			ancli.Okf("%v", msg)
		case WARNING:
			ancli.Warnf("%v", msg)
		case ERROR:
			ancli.Errf("%v", msg)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
