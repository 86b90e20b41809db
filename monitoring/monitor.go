// Package monitoring serves the state of hook Managers over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/interpose/hook"
	"github.com/sarchlab/interpose/idgen"
	"github.com/sarchlab/interpose/instrumentation/hooking"
	"github.com/sarchlab/interpose/monitoring/web"
)

const maxEvents = 1000

// Monitor turns a set of hook Managers into a server that can be inspected
// while the program runs.
type Monitor struct {
	portNumber      int
	profileDuration time.Duration
	openBrowser     func(url string) error

	managersLock sync.Mutex
	managers     map[string]*hook.Manager
	names        map[*hook.Manager]string

	eventsLock sync.Mutex
	events     []Event

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// Event is a Manager event as reported by the monitor.
type Event struct {
	Manager  string `json:"manager"`
	Time     string `json:"time"`
	Position string `json:"position"`
	Class    string `json:"class,omitempty"`
	Selector string `json:"selector,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		profileDuration: time.Second,
		openBrowser:     browser.OpenURL,
		managers:        make(map[string]*hook.Manager),
		names:           make(map[*hook.Manager]string),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterManager makes a Manager visible under name and starts following
// its events.
func (m *Monitor) RegisterManager(name string, manager *hook.Manager) {
	m.managersLock.Lock()
	defer m.managersLock.Unlock()

	if _, found := m.managers[name]; found {
		log.Panicf("manager %s is already registered", name)
	}

	m.managers[name] = manager
	m.names[manager] = name

	manager.AcceptHook(m)
}

// Func records an event raised by a registered Manager.
func (m *Monitor) Func(ctx hooking.HookCtx) {
	e := Event{
		Time:     time.Now().Format(time.RFC3339Nano),
		Position: ctx.Pos.String(),
	}

	if manager, ok := ctx.Domain.(*hook.Manager); ok {
		m.managersLock.Lock()
		e.Manager = m.names[manager]
		m.managersLock.Unlock()
	}

	switch item := ctx.Item.(type) {
	case hook.ContextInfo:
		e.Class = item.Class
		e.Selector = item.Selector
	case hook.WrapInfo:
		e.Class = item.Class
		e.Detail = item.Synthetic
	}

	if ctx.Detail != nil {
		e.Detail = fmt.Sprint(ctx.Detail)
	}

	m.eventsLock.Lock()
	defer m.eventsLock.Unlock()

	m.events = append(m.events, e)
	if len(m.events) > maxEvents {
		m.events = append([]Event(nil), m.events[len(m.events)-maxEvents:]...)
	}
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        idgen.Default().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the HTTP routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/managers", m.listManagers)
	r.HandleFunc("/api/contexts/{manager}", m.listContexts)
	r.HandleFunc("/api/context/{manager}/{id}", m.contextDetails)
	r.HandleFunc("/api/events", m.listEvents)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	fmt.Fprintf(os.Stderr, "Monitoring hooks with %s\n", url)

	router := m.Router()

	go func() {
		err := http.Serve(listener, router)
		dieOnErr(err)
	}()

	return url
}

// OpenInBrowser opens url with the default browser of the system.
func (m *Monitor) OpenInBrowser(url string) error {
	return m.openBrowser(url)
}

func (m *Monitor) listManagers(w http.ResponseWriter, _ *http.Request) {
	m.managersLock.Lock()
	names := make([]string, 0, len(m.managers))
	for name := range m.managers {
		names = append(names, name)
	}
	m.managersLock.Unlock()

	sort.Strings(names)

	writeJSON(w, names)
}

type contextsRsp struct {
	Class    int                `json:"class"`
	Object   int                `json:"object"`
	Wrapped  int                `json:"wrapped"`
	Contexts []hook.ContextInfo `json:"contexts"`
}

func (m *Monitor) listContexts(w http.ResponseWriter, r *http.Request) {
	manager := m.findManagerOr404(w, mux.Vars(r)["manager"])
	if manager == nil {
		return
	}

	writeJSON(w, contextsRsp{
		Class:    manager.ClassContextCount(),
		Object:   manager.ObjectContextCount(),
		Wrapped:  manager.WrappedObjectCount(),
		Contexts: manager.Snapshot(),
	})
}

func (m *Monitor) contextDetails(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	manager := m.findManagerOr404(w, vars["manager"])
	if manager == nil {
		return
	}

	info, found := manager.Context(vars["id"])
	if !found {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Context not found"))
		dieOnErr(err)

		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&info)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error

		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "Error: invalid limit %q", limitStr)

			return
		}
	}

	m.eventsLock.Lock()
	events := append([]Event(nil), m.events...)
	m.eventsLock.Unlock()

	if limit > 0 && limit < len(events) {
		events = events[len(events)-limit:]
	}

	writeJSON(w, events)
}

func (m *Monitor) findManagerOr404(
	w http.ResponseWriter,
	name string,
) *hook.Manager {
	m.managersLock.Lock()
	manager := m.managers[name]
	m.managersLock.Unlock()

	if manager == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Manager not found"))
		dieOnErr(err)
	}

	return manager
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bars := make([]ProgressBarStatus, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.Status())
	}

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(m.profileDuration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}

var _ hooking.Hook = (*Monitor)(nil)
