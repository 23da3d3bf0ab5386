package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Nil(t, err)
	assert.Equal(t, consts.DefaultRegionName, cfg.Region.Name)
	assert.Equal(t, "", cfg.Region.Dir)
	assert.Equal(t, 64, cfg.Region.ReadRetries)
	assert.Equal(t, 20*time.Microsecond, cfg.Region.RetryBackoff)
	assert.Equal(t, "127.0.0.1", cfg.Panel.Host)
	assert.Equal(t, int64(8014), cfg.Panel.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Supervisor.LaunchDelay)
	assert.Equal(t, 24, cfg.Regulator.Fps)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
region:
  name: cube
  dir: /tmp/cube
  read_retries: 128
  retry_backoff: 50us
panel:
  port: 9000
supervisor:
  driver: /usr/local/bin/driver
  launch_delay: 1s
regulator:
  fps: 60
`
	require.Nil(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.Nil(t, err)
	assert.Equal(t, "cube", cfg.Region.Name)
	assert.Equal(t, "/tmp/cube", cfg.Region.Dir)
	assert.Equal(t, 128, cfg.Region.ReadRetries)
	assert.Equal(t, 50*time.Microsecond, cfg.Region.RetryBackoff)
	assert.Equal(t, int64(9000), cfg.Panel.Port)
	assert.Equal(t, "127.0.0.1", cfg.Panel.Host)
	assert.Equal(t, "/usr/local/bin/driver", cfg.Supervisor.Driver)
	assert.Equal(t, time.Second, cfg.Supervisor.LaunchDelay)
	assert.Equal(t, 60, cfg.Regulator.Fps)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv(consts.PanelPort, "9100")
	t.Setenv(consts.RegionName, "fromenv")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Nil(t, err)
	assert.Equal(t, int64(9100), cfg.Panel.Port)
	assert.Equal(t, "fromenv", cfg.Region.Name)
}

func TestLoadInvalid(t *testing.T) {
	testList := []string{
		"region:\n  name: a/b\n",
		"region:\n  read_retries: 0\n",
		"panel:\n  port: 70000\n",
		"regulator:\n  fps: 0\n",
		"supervisor:\n  launch_delay: -1s\n",
	}

	for _, content := range testList {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.Nil(t, os.WriteFile(path, []byte(content), 0644))
		_, err := Load(path)
		assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err), content)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.Nil(t, os.WriteFile(path, []byte("region: [unclosed"), 0644))
	_, err := Load(path)
	assert.Equal(t, int64(errs.ReadConfigErrCode), errs.GetCode(err))
}
