// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package hooks

import (
	"github.com/safchain/ethtool"

	"grimm.is/portdrop/internal/errors"
)

// DriverName asks the NIC driver for its name through ethtool.
func DriverName(iface string) (string, error) {
	eth, err := ethtool.NewEthtool()
	if err != nil {
		return "", errors.Wrap(err, errors.KindUnavailable, "failed to create ethtool handle")
	}
	defer eth.Close()

	name, err := eth.DriverName(iface)
	if err != nil {
		return "", errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to query driver"), "iface", iface)
	}
	return name, nil
}
