package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "versus")
				So(manager.subsystem, ShouldEqual, "ratings")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithMetricPrefix("test_prefix"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(true),
				WithRefreshInterval(10*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metric names carry the prefix", func() {
				So(manager, ShouldNotBeNil)
				manager.gamesApplied.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				found := false
				for _, f := range families {
					if f.GetName() == "test_namespace_test_subsystem_test_prefix_games_applied_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When registering two managers on the same registry", func() {
			registry := prometheus.NewRegistry()
			_ = NewManager(WithPrometheusRegistry(registry))

			Convey("Then the duplicate registration panics", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording ledger metrics", func() {
			before := testutil.ToFloat64(globalManager.gamesApplied)
			RecordGameApplied()
			RecordGameApplied()

			Convey("Then the counter advances", func() {
				So(testutil.ToFloat64(globalManager.gamesApplied), ShouldEqual, before+2)
			})
		})

		Convey("When setting gauges", func() {
			UpdatePlayersTotal(42)
			UpdateLedgerRecordsTotal(7)
			UpdateSnapshotQueueSize(3)

			Convey("Then they report the last value", func() {
				So(testutil.ToFloat64(globalManager.playersTotal), ShouldEqual, 42)
				So(testutil.ToFloat64(globalManager.ledgerRecords), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.snapshotQueueSize), ShouldEqual, 3)
			})
		})

		Convey("When recording transaction metrics", func() {
			before := testutil.ToFloat64(globalManager.transactionFailures.WithLabelValues("apply_game", "append"))
			RecordTransactionFailure("apply_game", "append")
			RecordCompensation("apply_game", "ok")

			Convey("Then the labelled counters advance", func() {
				So(testutil.ToFloat64(globalManager.transactionFailures.WithLabelValues("apply_game", "append")), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.compensations.WithLabelValues("apply_game", "ok")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When recording the remaining metrics", func() {
			So(func() {
				RecordGameUndone()
				RecordGameDuplicate()
				RecordTransactionLatency("undo_last_game", 1.5)
				RecordLockWait(0.2)
				RecordLockTimeout()
				RecordCASRetry()
				RecordRepositoryUpdateLatency(0.1)
				RecordRepositoryQueryLatency(0.3)
				UpdateSnapshotQueueCapacity(1024)
				RecordSnapshotEnqueued()
				RecordSnapshotSyncFallback()
				RecordSnapshotWritten()
				RecordSnapshotError()
				UpdateWorkerCount(4)
				RecordWorkerProcessingLatency(0.4)
				RecordHTTPRequest("games", "POST", "201")
				RecordHTTPRequestDuration("games", "POST", "201", 2.0)
				RecordErrorByComponent("engine", "timeout")
				RecordErrorByType("client_error", "medium")
				RecordErrorByEndpoint("undo", "POST", "not_found")
				RecordErrorLatency("http", "not_found", 1.0)
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.5)
			}, ShouldNotPanic)
		})

		Convey("Then the custom registry is exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
			_, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
		})
	})
}
