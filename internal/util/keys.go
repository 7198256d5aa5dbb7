package util

// StorageKey builds the composite storage key a distributed handle uses to
// namespace entries: namespace, region, and the logical key joined with
// ':' (an empty region gives "namespace::key"). Components are not
// escaped, so a ':' inside region or key is not distinguished from the
// separator.
func StorageKey(namespace, region, key string) string {
	if region == "" {
		return namespace + "::" + key
	}
	return namespace + ":" + region + ":" + key
}

// ChannelName builds the backplane transport address for a given logical
// channel and a manager-configured prefix, so multiple managers can share
// one Redis instance without colliding.
func ChannelName(prefix, channel string) string {
	if prefix == "" {
		return channel
	}
	return prefix + ":" + channel
}
