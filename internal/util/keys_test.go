package util

import "testing"

func TestStorageKeyWithAndWithoutRegion(t *testing.T) {
	if got := StorageKey("app", "", "k1"); got != "app::k1" {
		t.Fatalf("StorageKey(no region) = %q, want app::k1", got)
	}
	if got := StorageKey("app", "users", "k1"); got != "app:users:k1" {
		t.Fatalf("StorageKey(region) = %q, want app:users:k1", got)
	}
}

func TestChannelNameWithAndWithoutPrefix(t *testing.T) {
	if got := ChannelName("", "cache-events"); got != "cache-events" {
		t.Fatalf("ChannelName(no prefix) = %q, want cache-events", got)
	}
	if got := ChannelName("app", "cache-events"); got != "app:cache-events" {
		t.Fatalf("ChannelName(prefix) = %q, want app:cache-events", got)
	}
}
