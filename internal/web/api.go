package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sweeney/reefer-sensor/internal/command"
	"github.com/sweeney/reefer-sensor/internal/config"
	"github.com/sweeney/reefer-sensor/internal/journal"
)

const (
	commandTimeout = 5 * time.Second
	maxBodyBytes   = 1 << 14
	origin         = "http"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Settings())
}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	var p config.Patch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	settings, err := s.store.Update(p)
	if err != nil {
		if errors.Is(err, config.ErrInvalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.log.Infow("config updated", "settings", settings)
	writeJSON(w, http.StatusOK, configJSON{Success: true, Config: settings})
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	reply, ok := s.send(w, r, command.Request{Kind: command.Acknowledge})
	if !ok {
		return
	}
	res := resultJSON{Success: true, Applied: reply.Applied}
	if !reply.Applied {
		res.Message = "no active alarm to acknowledge"
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTestAlarm(w http.ResponseWriter, r *http.Request) {
	reply, ok := s.send(w, r, command.Request{Kind: command.TestAlarm})
	if !ok {
		return
	}
	res := resultJSON{Success: true, Applied: reply.Applied}
	if !reply.Applied {
		res.Message = "test alarm debounced"
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var body relayJSON
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if body.State == nil {
		writeError(w, http.StatusBadRequest, `missing "state"`)
		return
	}

	reply, ok := s.send(w, r, command.Request{Kind: command.SetRelay, On: *body.State})
	if !ok {
		return
	}
	on := reply.Snapshot.RelayOn
	writeJSON(w, http.StatusOK, relayJSON{Success: true, State: &on})
}

func (s *Server) handleDefrost(w http.ResponseWriter, r *http.Request) {
	reply, ok := s.send(w, r, command.Request{Kind: command.ToggleDefrost})
	if !ok {
		return
	}
	snap := reply.Snapshot
	writeJSON(w, http.StatusOK, defrostJSON{
		Success:      true,
		DefrostMode:  snap.Defrost.Active,
		CooldownMode: snap.Defrost.CooldownActive,
		Phase:        string(snap.Phase),
	})
}

func (s *Server) handleTelegramTest(w http.ResponseWriter, r *http.Request) {
	reply, ok := s.send(w, r, command.Request{Kind: command.TestTelegram})
	if !ok {
		return
	}
	if reply.Err != nil {
		writeError(w, http.StatusInternalServerError, reply.Err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resultJSON{Success: true, Applied: true})
}

// send forwards req to the control loop. On failure it writes the response
// and returns false.
func (s *Server) send(w http.ResponseWriter, r *http.Request, req command.Request) (command.Reply, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	req.Origin = origin
	reply, err := s.commands.Send(ctx, req)
	if err != nil {
		s.log.Warnw("command failed", "kind", req.Kind, "err", err)
		code := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusGatewayTimeout
		}
		writeError(w, code, err.Error())
		return command.Reply{}, false
	}
	return reply, true
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "event journal disabled")
		return
	}

	q := r.URL.Query()
	var f journal.Filter
	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	f.Kind = q.Get("type")
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	entries, err := s.events.List(r.Context(), f)
	if err != nil {
		s.log.Warnw("list events failed", "err", err)
		writeError(w, http.StatusInternalServerError, "list events failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// parseTime accepts RFC 3339 or unix seconds. Empty means unbounded.
func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(sec, 0), nil
	}
	return time.Parse(time.RFC3339, v)
}
