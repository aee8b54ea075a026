// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thinkgreen/thinkgreen/internal/auth"
)

const namespace = "thinkgreen"

// Metrics contains the ThinkGreen Prometheus counters. It implements
// auth.Recorder so the auth service can report events directly.
type Metrics struct {
	otpIssued        *prometheus.CounterVec
	otpVerifications *prometheus.CounterVec
	signups          *prometheus.CounterVec
	logins           *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	otpSwept         *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates and registers the ThinkGreen metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		otpIssued: newCounterVec("otp_issued_total",
			"Total number of verification codes handed out, by whether a live code was reused", "reused"),
		otpVerifications: newCounterVec("otp_verifications_total",
			"Total number of verification attempts by result", "result"),
		signups: newCounterVec("signups_total",
			"Total number of signup confirmations by result", "result"),
		logins: newCounterVec("logins_total",
			"Total number of login confirmations by result", "result"),
		notifications: newCounterVec("notifications_total",
			"Total number of outbound notifications by kind and result", "kind", "result"),
		otpSwept: newCounterVec("otp_swept_total",
			"Total number of expired rows removed by the sweeper", "kind"),
		httpRequests: newCounterVec("http_requests_total",
			"Total number of API requests by route pattern and status", "route", "status"),
	}

	reg.MustRegister(
		m.otpIssued,
		m.otpVerifications,
		m.signups,
		m.logins,
		m.notifications,
		m.otpSwept,
		m.httpRequests,
	)
	return m
}

// OTPIssued records a code being handed out.
func (m *Metrics) OTPIssued(reused bool) {
	m.otpIssued.WithLabelValues(strconv.FormatBool(reused)).Inc()
}

// OTPVerified records a verification outcome.
func (m *Metrics) OTPVerified(result auth.VerifyResult) {
	m.otpVerifications.WithLabelValues(result.String()).Inc()
}

// Signup records a signup confirmation outcome.
func (m *Metrics) Signup(result string) {
	m.signups.WithLabelValues(result).Inc()
}

// Login records a login confirmation outcome.
func (m *Metrics) Login(result string) {
	m.logins.WithLabelValues(result).Inc()
}

// Notification records a send attempt. A nil err counts as success.
func (m *Metrics) Notification(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

// Swept adds n removed rows of the given kind.
func (m *Metrics) Swept(kind string, n int64) {
	if n <= 0 {
		return
	}
	m.otpSwept.WithLabelValues(kind).Add(float64(n))
}

// HTTPRequest records one API request. route is the router pattern, not
// the raw path, to keep cardinality bounded.
func (m *Metrics) HTTPRequest(route string, status int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

var _ auth.Recorder = (*Metrics)(nil)
