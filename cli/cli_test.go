package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oo-developer/mfclone/classic"
	"github.com/oo-developer/mfclone/config"
	"github.com/oo-developer/mfclone/database"
	"github.com/oo-developer/mfclone/profile"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func seedStore(t *testing.T, dir string) {
	t.Helper()
	storage, err := database.NewDirStorage(dir)
	require.NoError(t, err)
	store, err := database.NewCardStore(storage, database.StoreConfig{})
	require.NoError(t, err)
	p, err := profile.New([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.NoError(t, err)
	p.MarkSolved(0, classic.DefaultKey)
	_, err = store.Save(p)
	require.NoError(t, err)
}

func TestOfflineCommands(t *testing.T) {
	tmp := t.TempDir()
	storeDir := filepath.Join(tmp, "cards")
	seedStore(t, storeDir)
	base := []string{"--config", filepath.Join(tmp, "none.yaml"), "--env", filepath.Join(tmp, "none.env"), "--store", storeDir, "--log-level", "error"}

	out, err := runRoot(t, append([]string{"list"}, base...)...)
	require.NoError(t, err)
	require.Contains(t, out, "DE AD BE EF")
	require.Contains(t, out, " 1/16")

	out, err = runRoot(t, append([]string{"show", "0"}, base...)...)
	require.NoError(t, err)
	require.Contains(t, out, "key[00] = FFFFFFFFFFFF")

	_, err = runRoot(t, append([]string{"show", "zero"}, base...)...)
	require.ErrorContains(t, err, "invalid slot")

	out, err = runRoot(t, append([]string{"delete", "0"}, base...)...)
	require.NoError(t, err)
	require.Contains(t, out, "slot 0 deleted")
	_, err = os.Stat(filepath.Join(storeDir, database.SlotName(0)))
	require.True(t, os.IsNotExist(err))

	_, err = runRoot(t, append([]string{"delete", "0"}, base...)...)
	require.ErrorIs(t, err, database.ErrSlotNotFound)
}

func TestLoadDictionaryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.dic")
	require.NoError(t, os.WriteFile(path, []byte("# site keys\n5C1A 5C1A 5C1A\nFFFFFFFFFFFF\n"), 0o644))

	cfg := config.Default()
	cfg.Dictionary.File = path
	dict, err := loadDictionary(cfg, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, classic.DefaultDictionary().Len()+1, dict.Len())
	require.True(t, dict.Contains(classic.Key{0x5C, 0x1A, 0x5C, 0x1A, 0x5C, 0x1A}))

	cfg.Dictionary.File = ""
	cfg.Dictionary.Probe = false
	dict, err = loadDictionary(cfg, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, classic.DefaultDictionary().Len(), dict.Len())
}

func TestSlotArg(t *testing.T) {
	slot, err := slotArg([]string{"12"})
	require.NoError(t, err)
	require.Equal(t, 12, slot)

	_, err = slotArg([]string{"-1"})
	require.Error(t, err)
}
