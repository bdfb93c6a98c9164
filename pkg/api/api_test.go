// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/api"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/control"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/scheduler"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/sink"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/source"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/syncprobe"
	"github.com/united-manufacturing-hub/inverter-sync/pkg/telemetry"
)

type levelCommand struct {
	Device  string
	Command string
	UnitID  int
	Level   int
}

type fakeController struct {
	snapshotErr error
	commandErr  error
	commands    []levelCommand
	values      []sink.PublishedValue
	rearmed     []int
	state       string
	mu          sync.Mutex
}

func (f *fakeController) Snapshot() (control.SystemSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.snapshotErr != nil {
		return control.SystemSnapshot{}, f.snapshotErr
	}

	return control.SystemSnapshot{
		Devices:   map[string]telemetry.DeviceKind{"inverter": telemetry.KindThreePhaseInverter},
		Scheduler: scheduler.Snapshot{State: f.state, TargetID: 12},
		LastTick:  control.TickSnapshot{Tick: 42, ReadPrimary: true},
	}, nil
}

func (f *fakeController) Values() []sink.PublishedValue {
	return f.values
}

func (f *fakeController) Rearm(_ context.Context, targetID int) scheduler.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rearmed = append(f.rearmed, targetID)
	if targetID > 0 {
		f.state = scheduler.StateUnsynced
	} else {
		f.state = scheduler.StateDisabled
	}

	return scheduler.Snapshot{State: f.state, TargetID: targetID}
}

func (f *fakeController) Command(_ context.Context, device string, unitID int, command string, level int) (telemetry.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.commandErr != nil {
		return telemetry.Reading{}, f.commandErr
	}

	f.commands = append(f.commands, levelCommand{Device: device, UnitID: unitID, Command: command, Level: level})

	return telemetry.Reading{Device: device, Unit: "Active Power Limit", UnitID: unitID, SValue: strconv.Itoa(level), NValue: 2}, nil
}

type unreachableTarget struct{}

func (unreachableTarget) Probe(context.Context, int) (syncprobe.Result, error) {
	return syncprobe.Result{}, syncprobe.ErrProbeTransport
}

var _ = Describe("Status API", func() {
	var (
		controller *fakeController
		router     *gin.Engine
	)

	serve := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		return rec
	}

	BeforeEach(func() {
		controller = &fakeController{state: scheduler.StateLocked}
		router = api.NewRouter(controller, nil)
	})

	It("answers the healthcheck", func() {
		rec := serve(http.MethodGet, "/", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("online"))
	})

	Describe("GET /api/v1/status", func() {
		It("returns the system snapshot", func() {
			rec := serve(http.MethodGet, "/api/v1/status", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var snapshot control.SystemSnapshot
			Expect(json.Unmarshal(rec.Body.Bytes(), &snapshot)).To(Succeed())
			Expect(snapshot.Scheduler.State).To(Equal(scheduler.StateLocked))
			Expect(snapshot.Scheduler.TargetID).To(Equal(12))
			Expect(snapshot.LastTick.Tick).To(Equal(uint64(42)))
			Expect(snapshot.Devices).To(HaveKeyWithValue("inverter", telemetry.KindThreePhaseInverter))
		})

		It("reports snapshot failures as internal errors", func() {
			controller.snapshotErr = errors.New("copy failed")

			rec := serve(http.MethodGet, "/api/v1/status", "")
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).To(ContainSubstring("copy failed"))
		})
	})

	Describe("GET /api/v1/devices", func() {
		It("lists the last published values", func() {
			publishedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			controller.values = []sink.PublishedValue{{
				PublishedAt: publishedAt,
				Reading:     telemetry.Reading{Device: "inverter", Unit: "Power", UnitID: 9, SValue: "1500", Numeric: 1500, IsNumeric: true},
			}}

			rec := serve(http.MethodGet, "/api/v1/devices", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var values []map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &values)).To(Succeed())
			Expect(values).To(HaveLen(1))
			Expect(values[0]).To(HaveKeyWithValue("device", "inverter"))
			Expect(values[0]).To(HaveKeyWithValue("sValue", "1500"))
			Expect(values[0]).To(HaveKeyWithValue("unitId", BeNumerically("==", 9)))
			Expect(values[0]).NotTo(HaveKey("numeric"))
		})

		It("returns an empty list before the first publish", func() {
			rec := serve(http.MethodGet, "/api/v1/devices", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(strings.TrimSpace(rec.Body.String())).To(Equal("[]"))
		})
	})

	Describe("POST /api/v1/devices/:device/units/:unit/level", func() {
		It("sends the level to the controller", func() {
			rec := serve(http.MethodPost, "/api/v1/devices/inverter/units/24/level", `{"command": "set", "level": 60}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(controller.commands).To(Equal([]levelCommand{{Device: "inverter", UnitID: 24, Command: "set", Level: 60}}))

			var value map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &value)).To(Succeed())
			Expect(value).To(HaveKeyWithValue("sValue", "60"))
			Expect(value).To(HaveKeyWithValue("nValue", BeNumerically("==", 2)))
		})

		It("accepts off without a level", func() {
			rec := serve(http.MethodPost, "/api/v1/devices/inverter/units/24/level", `{"command": "off"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(controller.commands[0].Level).To(BeZero())
		})

		DescribeTable("rejects invalid requests",
			func(path, body string) {
				rec := serve(http.MethodPost, path, body)
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(controller.commands).To(BeEmpty())
			},
			Entry("non-numeric unit", "/api/v1/devices/inverter/units/limit/level", `{"command": "set", "level": 60}`),
			Entry("unknown command", "/api/v1/devices/inverter/units/24/level", `{"command": "toggle", "level": 60}`),
			Entry("missing level", "/api/v1/devices/inverter/units/24/level", `{"command": "set"}`),
			Entry("negative level", "/api/v1/devices/inverter/units/24/level", `{"command": "set", "level": -5}`),
		)

		DescribeTable("maps controller errors to status codes",
			func(err error, code int) {
				controller.commandErr = err

				rec := serve(http.MethodPost, "/api/v1/devices/inverter/units/24/level", `{"command": "set", "level": 60}`)
				Expect(rec.Code).To(Equal(code))
			},
			Entry("undetected unit", telemetry.ErrUnknownUnit, http.StatusNotFound),
			Entry("read-only unit", telemetry.ErrNotWritable, http.StatusBadRequest),
			Entry("no writer", control.ErrCommandsUnavailable, http.StatusServiceUnavailable),
			Entry("write failed", source.ErrPrimaryWrite, http.StatusServiceUnavailable),
			Entry("publish failed", errors.New("broker gone"), http.StatusInternalServerError),
		)
	})

	Describe("POST /api/v1/sync/rearm", func() {
		It("re-arms the sync target", func() {
			rec := serve(http.MethodPost, "/api/v1/sync/rearm", `{"targetId": 7}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(controller.rearmed).To(Equal([]int{7}))
			Expect(rec.Body.String()).To(ContainSubstring(scheduler.StateUnsynced))
		})

		It("disables sync with target 0", func() {
			rec := serve(http.MethodPost, "/api/v1/sync/rearm", `{"targetId": 0}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(controller.rearmed).To(Equal([]int{0}))
			Expect(rec.Body.String()).To(ContainSubstring(scheduler.StateDisabled))
		})

		Context("with the control loop", func() {
			var loop *control.Loop

			BeforeEach(func() {
				sched := scheduler.New(scheduler.Config{DefaultInterval: 5 * time.Second}, unreachableTarget{})

				var err error
				loop, err = control.NewLoop(control.Config{
					Scheduler: sched,
					Reader:    &source.MockReader{Frame: telemetry.Frame{"battery1": {"c_version": "1.0", "status": float64(3)}}},
					Processor: telemetry.NewProcessor(true),
					Sink:      sink.NewDeviceSink(sink.NewLogSink(), nil),
				})
				Expect(err).NotTo(HaveOccurred())

				router = api.NewRouter(loop, nil)
			})

			It("returns the scheduler state right after a re-arm from disabled", func() {
				rec := serve(http.MethodPost, "/api/v1/sync/rearm", `{"targetId": 7}`)
				Expect(rec.Code).To(Equal(http.StatusOK))
				Expect(rec.Body.String()).To(ContainSubstring(`"state":"unsynced"`))

				status := serve(http.MethodGet, "/api/v1/status", "")
				Expect(status.Body.String()).To(ContainSubstring(`"state":"unsynced"`))
			})

			It("returns the new state after the target failed open", func() {
				serve(http.MethodPost, "/api/v1/sync/rearm", `{"targetId": 7}`)

				_, err := loop.Tick(context.Background(), 1)
				Expect(err).NotTo(HaveOccurred())

				snapshot, err := loop.Snapshot()
				Expect(err).NotTo(HaveOccurred())
				Expect(snapshot.Scheduler.State).To(Equal(scheduler.StateDisabled))

				rec := serve(http.MethodPost, "/api/v1/sync/rearm", `{"targetId": 7}`)
				Expect(rec.Body.String()).To(ContainSubstring(`"state":"unsynced"`))
			})
		})

		DescribeTable("rejects invalid requests",
			func(body string) {
				rec := serve(http.MethodPost, "/api/v1/sync/rearm", body)
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(controller.rearmed).To(BeEmpty())
			},
			Entry("missing target", `{}`),
			Entry("negative target", `{"targetId": -1}`),
			Entry("malformed body", `{"targetId":`),
		)
	})
})
