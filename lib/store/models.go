package store

// Watch list rows live under the 'W' prefix, one row per monitored address:
// 'W' || net || 0x00 || address -> empty. The indexer reads the list on every
// block, the web API adds and removes entries.

const watchPrefix = 'W'

func watchKey(net, addr string) []byte {
	k := make([]byte, 0, 2+len(net)+len(addr))
	k = append(k, watchPrefix)
	k = append(k, net...)
	k = append(k, 0x00)
	k = append(k, addr...)

	return k
}

// AddWatch registers an address to be monitored for transaction events.
func AddWatch(kv KV, net, addr string) error {
	return kv.Write([]Row{{Key: watchKey(net, addr), Value: []byte{}}})
}

// RemoveWatch removes a monitored address. Returns ErrNotFound if the address
// was not being monitored.
func RemoveWatch(kv KV, net, addr string) error {
	k := watchKey(net, addr)

	if _, err := kv.Get(k); err != nil {
		return err
	}

	return kv.Delete([][]byte{k})
}

// Watched returns the monitored addresses for the given network.
func Watched(kv KV, net string) ([]string, error) {
	prefix := append([]byte{watchPrefix}, append([]byte(net), 0x00)...)

	rows, err := kv.ScanPrefix(prefix)
	if err != nil {
		return nil, err
	}

	addrs := make([]string, 0, len(rows))
	for _, r := range rows {
		addrs = append(addrs, string(r.Key[len(prefix):]))
	}

	return addrs, nil
}
