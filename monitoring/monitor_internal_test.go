package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/interpose/hook"
	"github.com/sarchlab/interpose/instrumentation/hooking"
	"github.com/sarchlab/interpose/objrt"
)

func newCalculator() *objrt.Class {
	calc := objrt.NewRootClass("Calculator", objrt.KindManaged)
	calc.MustAddMethod("sum", func(_ *objrt.Object, a, b int) int {
		return a + b
	})

	return calc
}

var _ = Describe("Monitor", func() {
	var (
		m       *Monitor
		manager *hook.Manager
		calc    *objrt.Class
		router  http.Handler
	)

	get := func(url string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

		return rec
	}

	BeforeEach(func() {
		m = NewMonitor()
		m.profileDuration = 10 * time.Millisecond
		manager = hook.MakeBuilder().Build()
		calc = newCalculator()
		router = m.Router()

		m.RegisterManager("calc", manager)
	})

	It("should follow the events of registered managers", func() {
		Expect(manager.NumHooks()).To(Equal(1))
		Expect(func() { m.RegisterManager("calc", manager) }).To(Panic())
	})

	It("should list managers", func() {
		m.RegisterManager("another", hook.MakeBuilder().Build())

		rec := get("/api/managers")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`["another","calc"]`))
	})

	It("should list contexts", func() {
		_, err := manager.HookClass(calc, "sum", hook.Before, func() {})
		Expect(err).NotTo(HaveOccurred())
		_, err = manager.HookObject(objrt.New(calc), "sum", hook.After,
			func() {})
		Expect(err).NotTo(HaveOccurred())

		rec := get("/api/contexts/calc")
		Expect(rec.Code).To(Equal(http.StatusOK))

		rsp := contextsRsp{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Class).To(Equal(1))
		Expect(rsp.Object).To(Equal(2))
		Expect(rsp.Wrapped).To(Equal(1))
		Expect(rsp.Contexts).To(HaveLen(3))
	})

	It("should return 404 for unknown managers", func() {
		rec := get("/api/contexts/unknown")

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should serialize one context", func() {
		_, err := manager.HookClass(calc, "sum", hook.Before, func() {})
		Expect(err).NotTo(HaveOccurred())
		id := manager.Snapshot()[0].ID

		rec := get("/api/context/calc/" + id)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("Calculator"))

		rec = get("/api/context/calc/no-such-context")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should report recent events", func() {
		token, err := manager.HookClass(calc, "sum", hook.After, func() {})
		Expect(err).NotTo(HaveOccurred())
		token.Cancel()

		rec := get("/api/events?limit=1")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var events []Event
		Expect(json.Unmarshal(rec.Body.Bytes(), &events)).To(Succeed())
		Expect(events).To(HaveLen(1))
		Expect(events[0].Manager).To(Equal("calc"))
		Expect(events[0].Position).To(Equal(hook.HookPosCanceled.Name))
		Expect(events[0].Detail).To(Equal("restored"))
		Expect(events[0].Class).To(Equal("Calculator"))

		rec = get("/api/events?limit=x")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should keep a bounded number of events", func() {
		for i := 0; i < maxEvents+10; i++ {
			m.Func(hooking.HookCtx{Domain: manager, Pos: hook.HookPosHooked})
		}

		Expect(m.events).To(HaveLen(maxEvents))
	})

	It("should list progress bars", func() {
		bar := m.CreateProgressBar("workload", 10)
		bar.IncrementInProgress(4)
		bar.MoveInProgressToFinished(3)
		done := m.CreateProgressBar("done", 1)
		m.CompleteProgressBar(done)

		rec := get("/api/progress")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var bars []ProgressBarStatus
		Expect(json.Unmarshal(rec.Body.Bytes(), &bars)).To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Name).To(Equal("workload"))
		Expect(bars[0].Finished).To(Equal(uint64(3)))
		Expect(bars[0].InProgress).To(Equal(uint64(1)))
	})

	It("should report resource usage", func() {
		rec := get("/api/resource")
		Expect(rec.Code).To(Equal(http.StatusOK))

		rsp := resourceRsp{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should collect a profile", func() {
		rec := get("/api/profile")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
	})

	It("should serve the dashboard", func() {
		rec := get("/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	It("should open the dashboard in a browser", func() {
		var opened string
		m.openBrowser = func(url string) error {
			opened = url
			return nil
		}

		Expect(m.OpenInBrowser("http://localhost:1234")).To(Succeed())
		Expect(opened).To(Equal("http://localhost:1234"))
	})

	It("should reject reserved ports", func() {
		Expect(m.WithPortNumber(80).portNumber).To(Equal(0))
		Expect(m.WithPortNumber(8080).portNumber).To(Equal(8080))
	})
})
