package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angeloszaimis/edge-gateway/internal/accesslog"
	"github.com/angeloszaimis/edge-gateway/internal/cors"
	"github.com/angeloszaimis/edge-gateway/internal/credential"
	"github.com/angeloszaimis/edge-gateway/internal/fault"
)

// Stage is one named step of the request pipeline.
type Stage struct {
	Name       string
	Middleware func(http.Handler) http.Handler
}

// Pipeline is an ordered list of stages ending in a terminal handler. The
// first stage sees the request first and the response last.
type Pipeline struct {
	stages   []Stage
	terminal Stage
	handler  http.Handler
}

// New builds a pipeline. The terminal stage's Middleware is ignored; its
// handler is terminal.
func New(terminalName string, terminal http.Handler, stages ...Stage) *Pipeline {
	mws := make(chi.Middlewares, 0, len(stages))
	for _, s := range stages {
		mws = append(mws, s.Middleware)
	}

	return &Pipeline{
		stages:   append([]Stage(nil), stages...),
		terminal: Stage{Name: terminalName},
		handler:  chi.Chain(mws...).Handler(terminal),
	}
}

// Components are the gateway's standard stages.
type Components struct {
	AccessLog  *accesslog.Logger
	CORS       *cors.Middleware
	Translator *fault.Translator
	Relay      *credential.Relay
	Dispatcher http.Handler
}

// Standard wires the gateway's fixed stage order: access log, CORS, fault
// translation, credential relay, dispatch. The translator wraps everything
// that can fail so each fault is translated once, close to the boundary.
func Standard(c Components) *Pipeline {
	return New("dispatch", c.Dispatcher,
		Stage{Name: "access-log", Middleware: c.AccessLog.Middleware},
		Stage{Name: "cors", Middleware: c.CORS.Handler},
		Stage{Name: "fault-translator", Middleware: c.Translator.Middleware},
		Stage{Name: "credential-relay", Middleware: c.Relay.Middleware},
	)
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// Names lists the stage names in execution order, terminal last.
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.stages)+1)
	for _, s := range p.stages {
		names = append(names, s.Name)
	}
	return append(names, p.terminal.Name)
}
