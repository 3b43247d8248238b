package metrics

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordSession(op string, outcome string, reason string) {
	m.Called(op, outcome, reason)
}

func (m *MockRecorder) RecordLatency(op string, d time.Duration) {
	m.Called(op, d)
}

func (m *MockRecorder) RecordRegistration(outcome string) {
	m.Called(outcome)
}

func (m *MockRecorder) RecordTokensPurged(count int64) {
	m.Called(count)
}
