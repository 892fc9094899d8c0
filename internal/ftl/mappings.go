// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ftl

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"grimm.is/longview/internal/errors"
)

// Mapping loaders read the FTL auxiliary tables into plain maps. Contract:
// on any failure the loader returns whatever it could build (usually an empty
// map) together with the error; callers log the degradation and continue.
// A missing mapping is "no enrichment available", never a fatal condition.

// DeviceActivity describes a device's lifetime footprint per the network table.
type DeviceActivity struct {
	FirstSeen       time.Time
	LastQuery       time.Time
	LifetimeQueries int64
	Vendor          string
}

func withSource(path string, fn func(*Source) error) error {
	src, err := OpenSource(path)
	if err != nil {
		return err
	}
	defer src.Close()
	return fn(src)
}

// LoadHostnames maps IP addresses to hostnames from network_addresses,
// discarding rows without a name.
func LoadHostnames(ctx context.Context, path string) (map[string]string, error) {
	out := make(map[string]string)
	err := withSource(path, func(src *Source) error {
		rows, err := src.db.QueryContext(ctx, `
			SELECT ip, name
			FROM network_addresses
			WHERE name IS NOT NULL AND name != ''`)
		if err != nil {
			return errors.Wrap(err, errors.KindUnavailable, "hostname mapping query failed")
		}
		defer rows.Close()

		for rows.Next() {
			var ip, name string
			if err := rows.Scan(&ip, &name); err != nil {
				return errors.Wrap(err, errors.KindDecode, "hostname mapping scan failed")
			}
			out[ip] = name
		}
		return rows.Err()
	})
	return out, err
}

// LoadMACMappings returns ip→MAC and MAC→hostname from the network tables.
// MACs are lowercased so lookups are case-insensitive. When several IPs on
// one MAC report different names, the first successfully loaded name wins.
func LoadMACMappings(ctx context.Context, path string) (ipToMAC, macToName map[string]string, err error) {
	ipToMAC = make(map[string]string)
	macToName = make(map[string]string)
	err = withSource(path, func(src *Source) error {
		rows, err := src.db.QueryContext(ctx, `
			SELECT na.ip, n.hwaddr
			FROM network_addresses na
			JOIN network n ON na.network_id = n.id
			WHERE n.hwaddr IS NOT NULL AND n.hwaddr != ''`)
		if err != nil {
			return errors.Wrap(err, errors.KindUnavailable, "ip-to-mac query failed")
		}
		for rows.Next() {
			var ip, mac string
			if err := rows.Scan(&ip, &mac); err != nil {
				rows.Close()
				return errors.Wrap(err, errors.KindDecode, "ip-to-mac scan failed")
			}
			ipToMAC[ip] = strings.ToLower(mac)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		rows, err = src.db.QueryContext(ctx, `
			SELECT n.hwaddr, na.name
			FROM network_addresses na
			JOIN network n ON na.network_id = n.id
			WHERE na.name IS NOT NULL AND na.name != ''`)
		if err != nil {
			return errors.Wrap(err, errors.KindUnavailable, "mac-to-hostname query failed")
		}
		defer rows.Close()
		for rows.Next() {
			var mac, name string
			if err := rows.Scan(&mac, &name); err != nil {
				return errors.Wrap(err, errors.KindDecode, "mac-to-hostname scan failed")
			}
			m := strings.ToLower(mac)
			if _, ok := macToName[m]; !ok {
				macToName[m] = name
			}
		}
		return rows.Err()
	})
	return ipToMAC, macToName, err
}

// LoadForwarders maps forwarder ids to upstream DNS server addresses.
func LoadForwarders(ctx context.Context, path string) (map[int64]string, error) {
	out := make(map[int64]string)
	err := withSource(path, func(src *Source) error {
		rows, err := src.db.QueryContext(ctx, `SELECT id, forward FROM forward_by_id`)
		if err != nil {
			return errors.Wrap(err, errors.KindUnavailable, "forwarder mapping query failed")
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			var forward string
			if err := rows.Scan(&id, &forward); err != nil {
				return errors.Wrap(err, errors.KindDecode, "forwarder mapping scan failed")
			}
			out[id] = forward
		}
		return rows.Err()
	})
	return out, err
}

// LoadDeviceActivity maps MAC addresses to lifetime activity metadata.
func LoadDeviceActivity(ctx context.Context, path string) (map[string]DeviceActivity, error) {
	out := make(map[string]DeviceActivity)
	err := withSource(path, func(src *Source) error {
		rows, err := src.db.QueryContext(ctx, `
			SELECT hwaddr, firstSeen, lastQuery, numQueries, macVendor
			FROM network
			WHERE hwaddr IS NOT NULL AND hwaddr != ''`)
		if err != nil {
			return errors.Wrap(err, errors.KindUnavailable, "device activity query failed")
		}
		defer rows.Close()

		for rows.Next() {
			var (
				mac        string
				firstSeen  sql.NullInt64
				lastQuery  sql.NullInt64
				numQueries sql.NullInt64
				vendor     sql.NullString
			)
			if err := rows.Scan(&mac, &firstSeen, &lastQuery, &numQueries, &vendor); err != nil {
				return errors.Wrap(err, errors.KindDecode, "device activity scan failed")
			}
			act := DeviceActivity{LifetimeQueries: numQueries.Int64, Vendor: "Unknown"}
			if firstSeen.Int64 > 0 {
				act.FirstSeen = time.Unix(firstSeen.Int64, 0).UTC()
			}
			if lastQuery.Int64 > 0 {
				act.LastQuery = time.Unix(lastQuery.Int64, 0).UTC()
			}
			if vendor.String != "" {
				act.Vendor = vendor.String
			}
			out[strings.ToLower(mac)] = act
		}
		return rows.Err()
	})
	return out, err
}
