package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/taoyao-code/hcidump-monitor/internal/hci"
	"github.com/taoyao-code/hcidump-monitor/internal/hcidump"
)

type stubRunner struct {
	lines []string
	err   error
}

func (s stubRunner) Run(context.Context, string, ...string) ([]string, error) {
	return s.lines, s.err
}

var hciconfigOut = []string{
	"hci0:\tType: Primary  Bus: USB",
	"\tBD Address: 00:1a:7d:da:71:13  ACL MTU: 310:10  SCO MTU: 64:8",
	"\tUP RUNNING",
}

func TestResolveAdapter(t *testing.T) {
	ctx := context.Background()

	c := hci.NewClient(stubRunner{lines: hciconfigOut}, zap.NewNop())
	a, err := resolveAdapter(ctx, c, "00:1A:7D:DA:71:13", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, hci.NewAdapter("hci0", "00:1a:7d:da:71:13"), a)

	_, err = resolveAdapter(ctx, c, "hci3", zaptest.NewLogger(t))
	assert.ErrorIs(t, err, hci.ErrNoAdapter)
}

func TestResolveAdapterFallback(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	c := hci.NewClient(stubRunner{err: errors.New("exec: hciconfig not found")}, zap.NewNop())

	a, err := resolveAdapter(ctx, c, "HCI1", zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, hci.Adapter{HCI: "hci1"}, a)
	assert.Equal(t, 1, logs.FilterMessage("adapter lookup failed, using interface name as given").Len())

	// MAC 形式无法退化
	_, err = resolveAdapter(ctx, c, "00:1A:7D:DA:71:13", zap.New(core))
	assert.Error(t, err)
}

func TestLoadNames(t *testing.T) {
	n, err := loadNames("")
	require.NoError(t, err)
	assert.Equal(t, "Reset", n.Command(hci.Encode(hci.OGFHostControl, 0x0003)))

	_, err = loadNames(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "names.yaml")
	require.NoError(t, os.WriteFile(path, []byte("commands:\n  \"0x0c03\": Reset_Local\n"), 0o600))
	n, err = loadNames(path)
	require.NoError(t, err)
	assert.Equal(t, "Reset_Local", n.Command(hci.Encode(hci.OGFHostControl, 0x0003)))
}

func TestReportDesync(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	reportDesync(zap.New(core))(hcidump.Partial{Direction: hcidump.DirEvent, Raw: []byte{0x04, 0x0e}, Missing: 3})

	entries := logs.FilterMessage("partial packet abandoned").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "040e", fields["raw"])
	assert.Equal(t, int64(3), fields["missing"])
}
