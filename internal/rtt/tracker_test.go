package rtt

import (
	"testing"
	"time"
)

func TestRecommendedTimeoutClampsToFloor(t *testing.T) {
	tr := New()
	if got := tr.RecommendedTimeout(); got != MinRTO {
		t.Errorf("no samples: got %v, want MinRTO %v", got, MinRTO)
	}
	tr.Record(2 * time.Millisecond)
	if got := tr.RecommendedTimeout(); got != MinRTO {
		t.Errorf("tiny RTT sample: got %v, want MinRTO %v", got, MinRTO)
	}
}

func TestRecommendedTimeoutClampsToCeiling(t *testing.T) {
	tr := New()
	tr.Record(10 * time.Second)
	if got := tr.RecommendedTimeout(); got != MaxRTO {
		t.Errorf("huge RTT sample: got %v, want MaxRTO %v", got, MaxRTO)
	}
}

func TestRecommendedTimeoutMidRange(t *testing.T) {
	tr := New()
	tr.Record(40 * time.Millisecond)
	want := 40*time.Millisecond + 4*time.Millisecond
	if got := tr.RecommendedTimeout(); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMeanAveragesSamples(t *testing.T) {
	tr := New()
	tr.Record(20 * time.Millisecond)
	tr.Record(40 * time.Millisecond)
	if got, want := tr.Mean(), 30*time.Millisecond; got != want {
		t.Errorf("Mean() = %v, want %v", got, want)
	}
}
