package serve

import (
	"testing"

	"github.com/ValentinKolb/dDoc/rpc/common"
)

func TestParseShards(t *testing.T) {
	shards, err := parseShards("default=local, 42=remote")
	if err != nil {
		t.Fatalf("parseShards failed: %v", err)
	}
	if len(shards) != 2 {
		t.Fatalf("Expected 2 shards, got %d", len(shards))
	}
	if shards[0].Bucket != "default" || shards[0].Type != common.ShardTypeLocal || shards[0].ShardID != common.BucketShardID("default") {
		t.Errorf("Unexpected first shard %+v", shards[0])
	}
	if shards[1].ShardID != 42 || shards[1].Type != common.ShardTypeRemote {
		t.Errorf("Expected numeric bucket to be used as shard id, got %+v", shards[1])
	}

	for _, bad := range []string{"", "default", "default=mirror", "=local", "a=local,a=remote"} {
		if _, err := parseShards(bad); err == nil {
			t.Errorf("Expected %q to be rejected", bad)
		}
	}
}
