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

package backoff_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/inverter-sync/pkg/backoff"
)

var _ = Describe("BackoffManager", func() {
	var (
		manager *backoff.BackoffManager
		start   time.Time
		errConn = errors.New("connection refused")
	)

	BeforeEach(func() {
		start = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		manager = backoff.NewBackoffManager(backoff.Config{
			InitialInterval: 10 * time.Second,
			MaxInterval:     2 * time.Minute,
		})
	})

	It("does not skip before any error", func() {
		Expect(manager.ShouldSkipOperation(start)).To(BeFalse())
		Expect(manager.GetBackoffError(start)).ToNot(HaveOccurred())
	})

	It("suspends for the initial interval after the first error", func() {
		Expect(manager.SetError(errConn, start)).To(BeFalse())

		Expect(manager.ShouldSkipOperation(start.Add(9 * time.Second))).To(BeTrue())
		Expect(manager.ShouldSkipOperation(start.Add(10 * time.Second))).To(BeFalse())

		err := manager.GetBackoffError(start.Add(time.Second))
		Expect(backoff.IsTemporaryBackoffError(err)).To(BeTrue())
		Expect(backoff.IsIgnoredError(err)).To(BeTrue())
		Expect(errors.Is(err, errConn)).To(BeTrue())
	})

	It("grows the suspension up to the maximum", func() {
		now := start
		for range 20 {
			manager.SetError(errConn, now)
		}

		Expect(manager.SuspendedUntil()).To(Equal(now.Add(2 * time.Minute)))
	})

	It("clears everything on reset", func() {
		manager.SetError(errConn, start)
		manager.Reset()

		Expect(manager.ShouldSkipOperation(start)).To(BeFalse())
		Expect(manager.GetLastError()).ToNot(HaveOccurred())

		manager.SetError(errConn, start)
		Expect(manager.SuspendedUntil()).To(Equal(start.Add(10 * time.Second)))
	})

	It("escalates to a permanent failure after the retry budget", func() {
		manager = backoff.NewBackoffManager(backoff.Config{
			InitialInterval: time.Second,
			MaxInterval:     time.Second,
			MaxRetries:      3,
		})

		Expect(manager.SetError(errConn, start)).To(BeFalse())
		Expect(manager.SetError(errConn, start)).To(BeFalse())
		Expect(manager.SetError(errConn, start)).To(BeTrue())

		Expect(manager.IsPermanentlyFailed()).To(BeTrue())
		Expect(manager.ShouldSkipOperation(start.Add(time.Hour))).To(BeTrue())

		err := manager.GetBackoffError(start)
		Expect(backoff.IsPermanentFailureError(err)).To(BeTrue())
		Expect(backoff.IsPermanentError(err)).To(BeTrue())
	})
})
