package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"basegraph.app/localizer/internal/model"
)

type redisPackageDetailsStore struct {
	client   redis.UniversalClient
	keyspace string
}

// NewRedisPackageDetailsStore keeps one hash per project at "<keyspace>:<project>",
// field = package, value = JSON-encoded details. Durability follows the server's
// persistence settings.
func NewRedisPackageDetailsStore(client redis.UniversalClient, keyspace string) PackageDetailsStore {
	if keyspace == "" {
		keyspace = "package_details"
	}
	return &redisPackageDetailsStore{client: client, keyspace: keyspace}
}

func (s *redisPackageDetailsStore) key(project string) string {
	return s.keyspace + ":" + project
}

func (s *redisPackageDetailsStore) Get(ctx context.Context, project, pkg string) (model.PackageDetails, error) {
	raw, err := s.client.HGet(ctx, s.key(project), pkg).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.PackageDetails{}, ErrNotFound
		}
		return model.PackageDetails{}, err
	}

	var d model.PackageDetails
	if err := json.Unmarshal(raw, &d); err != nil {
		return model.PackageDetails{}, fmt.Errorf("decoding package details %s: %w", pkg, err)
	}
	return d, nil
}

func (s *redisPackageDetailsStore) Put(ctx context.Context, project string, d model.PackageDetails) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding package details %s: %w", d.Package, err)
	}
	return s.client.HSet(ctx, s.key(project), d.Package, raw).Err()
}

func (s *redisPackageDetailsStore) Delete(ctx context.Context, project, pkg string) error {
	return s.client.HDel(ctx, s.key(project), pkg).Err()
}

func (s *redisPackageDetailsStore) ListPackages(ctx context.Context, project string) ([]string, error) {
	pkgs, err := s.client.HKeys(ctx, s.key(project)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(pkgs)
	return pkgs, nil
}
