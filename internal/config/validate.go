package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if c.Instance.DatacenterID < 0 || c.Instance.DatacenterID > 31 {
		return fmt.Errorf("instance.datacenter_id must be between 0 and 31, got %d", c.Instance.DatacenterID)
	}
	if c.Instance.WorkerID < 0 || c.Instance.WorkerID > 31 {
		return fmt.Errorf("instance.worker_id must be between 0 and 31, got %d", c.Instance.WorkerID)
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Traffic.ColdThreshold >= c.Traffic.HotThreshold {
		return fmt.Errorf("traffic.cold_threshold (%d) must be below hot_threshold (%d)",
			c.Traffic.ColdThreshold, c.Traffic.HotThreshold)
	}
	if c.Traffic.HotThreshold > c.Traffic.SuperHotThreshold {
		return fmt.Errorf("traffic.hot_threshold (%d) cannot exceed super_hot_threshold (%d)",
			c.Traffic.HotThreshold, c.Traffic.SuperHotThreshold)
	}

	if c.Topology.ColdShards < 1 {
		return errors.New("topology.cold_shards must be >= 1")
	}
	if c.Topology.NormalShards < 1 {
		return errors.New("topology.normal_shards must be >= 1")
	}
	if c.Topology.HotShards < c.Topology.NormalShards {
		return fmt.Errorf("topology.hot_shards (%d) must be >= normal_shards (%d)",
			c.Topology.HotShards, c.Topology.NormalShards)
	}
	if c.Topology.SuperHotShards < c.Topology.HotShards {
		return fmt.Errorf("topology.super_hot_shards (%d) must be >= hot_shards (%d)",
			c.Topology.SuperHotShards, c.Topology.HotShards)
	}

	if c.Producer.MaxAttempts < 1 {
		return errors.New("producer.max_attempts must be >= 1")
	}
	if c.Consumer.MaxAttempts < 1 {
		return errors.New("consumer.max_attempts must be >= 1")
	}
	if c.Consumer.RecentLimit < 1 {
		return errors.New("consumer.recent_limit must be >= 1")
	}

	if c.Session.GracePeriod < 0 {
		return errors.New("session.grace_period must be >= 0")
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
