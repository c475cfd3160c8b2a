// Package device establishes a stable identity for this installation,
// used by the active-timer registry and the sync metadata document.
package device

import (
	"os"
	"runtime"

	"github.com/khuang/chronosync/internal/models"
	"github.com/khuang/chronosync/internal/store"
	"github.com/khuang/chronosync/internal/uuid"
)

// Ensure loads the persisted device identity, minting one on first run.
// name overrides the stored device name when non-empty; the hostname is
// the fallback for brand-new devices.
func Ensure(st *store.Store, name string) (models.DeviceInfo, error) {
	id, err := st.GetMeta(store.MetaDeviceID)
	if err != nil {
		return models.DeviceInfo{}, err
	}
	// Absent on first run; a corrupted meta row is re-minted rather than
	// propagated into the remote registry.
	if uuid.Validate(id) != nil {
		id = uuid.New()
		if err := st.SetMeta(store.MetaDeviceID, id); err != nil {
			return models.DeviceInfo{}, err
		}
	}

	stored, err := st.GetMeta(store.MetaDeviceName)
	if err != nil {
		return models.DeviceInfo{}, err
	}
	switch {
	case name != "":
		if name != stored {
			if err := st.SetMeta(store.MetaDeviceName, name); err != nil {
				return models.DeviceInfo{}, err
			}
		}
	case stored != "":
		name = stored
	default:
		if host, err := os.Hostname(); err == nil && host != "" {
			name = host
		} else {
			name = "unknown-device"
		}
		if err := st.SetMeta(store.MetaDeviceName, name); err != nil {
			return models.DeviceInfo{}, err
		}
	}

	return models.DeviceInfo{
		ID:       id,
		Name:     name,
		Platform: runtime.GOOS,
	}, nil
}
