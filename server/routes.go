package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ripkitten-co/sitefeed"
	"github.com/ripkitten-co/sitefeed/events"
	"github.com/ripkitten-co/sitefeed/jobsites"
	"github.com/ripkitten-co/sitefeed/live"
)

func (a *Application) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health-check", a.handleHealthCheck)
	mux.HandleFunc("POST /jobsite", a.handleCreateJobsite)
	mux.HandleFunc("PUT /jobsite/{id}", a.handleUpdateJobsite)
	mux.HandleFunc("GET /jobsite/{id}", a.handleGetJobsite)
	mux.HandleFunc("GET /jobsites", a.handleListJobsites)
	mux.HandleFunc("GET /websocket", a.handleWebsocket)
	return mux
}

func (a *Application) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleCreateJobsite checks name uniqueness against the read model, then
// appends a JobsiteCreated event. The row itself appears once the consumer
// projects the event.
func (a *Application) handleCreateJobsite(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	if name == "" {
		a.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	rm := jobsites.NewReadModel(a.store)
	if _, err := rm.GetByName(r.Context(), name); err == nil {
		a.writeError(w, http.StatusConflict, "a jobsite already exists with this name")
		return
	} else if !errors.Is(err, sitefeed.ErrNotFound) {
		a.serverError(w, r, err)
		return
	}

	id := uuid.New()
	if err := a.appendEvent(r, jobsites.Created{ID: id, Name: name}, 0); err != nil {
		a.serverError(w, r, err)
		return
	}

	a.writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (a *Application) handleUpdateJobsite(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid jobsite id")
		return
	}
	name := r.FormValue("name")
	if name == "" {
		a.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	rm := jobsites.NewReadModel(a.store)
	if _, err := rm.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, sitefeed.ErrNotFound) {
			a.writeError(w, http.StatusNotFound, "jobsite not found")
			return
		}
		a.serverError(w, r, err)
		return
	}

	if other, err := rm.GetByName(r.Context(), name); err == nil && other.ID != id {
		a.writeError(w, http.StatusConflict, "this name is already taken")
		return
	} else if err != nil && !errors.Is(err, sitefeed.ErrNotFound) {
		a.serverError(w, r, err)
		return
	}

	if err := a.appendEvent(r, jobsites.Updated{ID: id, Name: name}, events.AnyVersion); err != nil {
		a.serverError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (a *Application) handleGetJobsite(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid jobsite id")
		return
	}

	js, err := jobsites.NewReadModel(a.store).GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sitefeed.ErrNotFound) {
			a.writeError(w, http.StatusNotFound, "jobsite not found")
			return
		}
		a.serverError(w, r, err)
		return
	}

	a.writeJSON(w, http.StatusOK, js)
}

func (a *Application) handleListJobsites(w http.ResponseWriter, r *http.Request) {
	list, err := a.query.List(r.Context())
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, list)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (a *Application) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Error("websocket upgrade", "error", err)
		return
	}

	sess := live.NewSession(conn, a.hub.Subscribe(),
		jobsites.NewReadModel(a.store), a.renderer,
		live.WithLogger(a.log), live.WithCodec(a.store.JSONCodec()))

	go sess.Run(a.baseCtx)
}

func (a *Application) appendEvent(r *http.Request, evt jobsites.Event, expectedVersion int) error {
	data, err := a.store.JSONCodec().Marshal(evt)
	if err != nil {
		return err
	}
	return a.events.Append(r.Context(), jobsites.StreamID(evt.JobsiteID()), expectedVersion, []events.Event{{
		Type: evt.EventName(),
		Data: data,
	}})
}

func (a *Application) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := a.store.JSONCodec().Marshal(v)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (a *Application) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}

func (a *Application) serverError(w http.ResponseWriter, r *http.Request, err error) {
	a.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	a.writeError(w, http.StatusInternalServerError, "internal server error")
}
