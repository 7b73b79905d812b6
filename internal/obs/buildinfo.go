package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Edvault API build information.",
		},
		[]string{"version", "commit"},
	)
)

// InitBuildInfo registers the build_info gauge once and pins its value to 1
// with the version and commit labels.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit).Set(1)
}
