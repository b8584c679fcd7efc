package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/okian/tenon/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":3000")
			convey.So(cfg.BrandSlug, convey.ShouldEqual, "tenon")
			convey.So(cfg.BackendBaseURL, convey.ShouldEqual, "http://localhost:8000")
			convey.So(cfg.SubmitAdvanceDelay(), convey.ShouldEqual, 900*time.Millisecond)
			convey.So(cfg.DraftDebounce(), convey.ShouldEqual, 350*time.Millisecond)
			convey.So(cfg.ToastDismiss(), convey.ShouldEqual, 6500*time.Millisecond)
			convey.So(cfg.CopyReset(), convey.ShouldEqual, 2*time.Second)
			convey.So(cfg.ResendCooldownFallback(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.AuthConfigured(), convey.ShouldBeFalse)
			convey.So(cfg.SessionSecret, convey.ShouldBeEmpty)
			convey.So(cfg.MetricsNamespace, convey.ShouldEqual, "tenon")
			convey.So(cfg.MetricsSubsystem, convey.ShouldEqual, "bff")
			convey.So(cfg.MetricsBuckets, convey.ShouldBeEmpty)
			convey.So(cfg.ValidateClient(), convey.ShouldBeNil)
		})

		convey.Convey("Then it is not a valid server config until a secret is set", func() {
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			cfg.SessionSecret = strings.Repeat("k", config.MinSessionSecretBytes)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then metric buckets must increase", func() {
			cfg.SessionSecret = strings.Repeat("k", config.MinSessionSecretBytes)
			cfg.MetricsBuckets = []float64{10, 5}
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			cfg.MetricsBuckets = []float64{5, 10}
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestNormalizeBackendBaseURL(t *testing.T) {
	convey.Convey("Given backend base URLs in several shapes", t, func() {
		cases := map[string]string{
			"http://api.example.com/api":   "http://api.example.com",
			"http://api.example.com/api/":  "http://api.example.com",
			" http://api.example.com/ ":    "http://api.example.com",
			"http://api.example.com/v2":    "http://api.example.com/v2",
			"https://x.example.com/apiary": "https://x.example.com/apiary",
		}
		for in, want := range cases {
			convey.So(config.NormalizeBackendBaseURL(in), convey.ShouldEqual, want)
		}
	})
}
