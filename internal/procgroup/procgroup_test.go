package procgroup

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndWaitReportsExit(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 0")

	g, err := Start("test", cmd)
	require.NoError(t, err)

	err = g.Wait()
	assert.NoError(t, err)

	select {
	case <-g.Done():
	default:
		t.Fatal("done channel not closed after Wait")
	}
}

func TestStopEscalatesToSigkillOnGraceExpiry(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 30")

	g, err := Start("ignores-term", cmd)
	require.NoError(t, err)

	start := time.Now()
	err = g.Stop(200 * time.Millisecond)
	elapsed := time.Since(start)

	assert.NoError(t, err)
	assert.Less(t, elapsed, 5*time.Second)

	select {
	case <-g.Done():
	default:
		t.Fatal("process still alive after Stop escalated")
	}
}

func TestStopOnAlreadyExitedProcessIsNoOp(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 0")

	g, err := Start("fast-exit", cmd)
	require.NoError(t, err)

	<-g.Done()

	err = g.Stop(time.Second)
	assert.NoError(t, err)
}
