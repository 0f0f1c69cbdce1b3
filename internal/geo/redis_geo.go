package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/food-rescue/internal/models"
)

// RedisGeo implements Pool using Redis GEO commands plus a metadata hash per
// claimant. The locations consumer writes the same keys.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisGeo) Close() error { return r.client.Close() }

func (r *RedisGeo) Upsert(ctx context.Context, c models.Claimant) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: c.Loc.Lon, Latitude: c.Loc.Lat, Name: c.ID}).Result(); err != nil {
		return fmt.Errorf("geoadd %s: %w", c.ID, err)
	}
	return r.client.HSet(ctx, MetaKey(c.ID), MetaFields(c)).Err()
}

func (r *RedisGeo) WithinRadius(ctx context.Context, lat, lon, radiusKm float64) ([]models.Claimant, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: radiusKm, Unit: "km", WithCoord: true, Sort: "ASC"}).Result()
	if err != nil {
		return nil, fmt.Errorf("georadius: %w", err)
	}
	out := make([]models.Claimant, 0, len(res))
	for _, g := range res {
		c := models.Claimant{ID: g.Name}
		c.Loc.Lat = g.Latitude
		c.Loc.Lon = g.Longitude
		if m, err := r.client.HGetAll(ctx, MetaKey(g.Name)).Result(); err == nil {
			applyMeta(&c, m)
		}
		out = append(out, c)
	}
	return out, nil
}

func MetaKey(id string) string { return "claimant:meta:" + id }

// MetaFields is the hash layout stored next to each GEO member.
func MetaFields(c models.Claimant) map[string]interface{} {
	return map[string]interface{}{
		"name":     c.Name,
		"capacity": strconv.Itoa(c.Capacity),
		"dietary":  c.DietaryRequirements,
		"phone":    c.Phone,
		"email":    c.Email,
		"updated":  time.Now().Format(time.RFC3339),
	}
}

func applyMeta(c *models.Claimant, m map[string]string) {
	c.Name = m["name"]
	c.DietaryRequirements = m["dietary"]
	c.Phone = m["phone"]
	c.Email = m["email"]
	if v, ok := m["capacity"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Capacity = n
		}
	}
	if v, ok := m["updated"]; ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			c.Updated = ts
		}
	}
}
