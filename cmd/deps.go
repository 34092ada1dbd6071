package cmd

import (
	"context"
	"log"

	"github.com/signalnine/nilmbench/internal/catalog"
	"github.com/signalnine/nilmbench/internal/config"
	"github.com/signalnine/nilmbench/internal/notify"
	"github.com/signalnine/nilmbench/internal/trainer"
)

// loadConfig reads the config file and pulls secrets into the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.LoadSecrets(); err != nil {
		log.Printf("warning: %v", err)
	}
	return cfg, nil
}

func newTrainer(cfg *config.Config) *trainer.Process {
	t := cfg.Trainer
	var l trainer.Launcher
	switch t.Backend {
	case config.BackendContainer:
		l = &trainer.ContainerLauncher{
			Image:       t.Image,
			Command:     t.Command,
			Env:         t.Env,
			Timeout:     t.Timeout,
			CPULimit:    t.CPULimit,
			MemoryLimit: t.MemoryMB * 1024 * 1024,
			GPUs:        t.GPUs,
		}
	default:
		l = &trainer.ExecLauncher{Command: t.Command, Env: t.Env, Timeout: t.Timeout}
	}
	p := trainer.NewProcess(l, t.WorkDir)
	p.Keep = t.Keep
	return p
}

// newNotifier always logs; Redis and MQTT are added when configured. A
// broker that cannot be reached is reported and skipped.
func newNotifier(ctx context.Context, cfg *config.Config) notify.Multi {
	n := notify.Multi{notify.Log{}}
	if url := cfg.Notify.RedisURL; url != "" {
		r, err := notify.NewRedis(ctx, url, cfg.Notify.RedisChannel)
		if err != nil {
			log.Printf("warning: redis notifications disabled: %v", err)
		} else {
			n = append(n, r)
		}
	}
	if url := cfg.Notify.MQTTURL; url != "" {
		m, err := notify.NewMQTT(url, cfg.Notify.MQTTTopic)
		if err != nil {
			log.Printf("warning: mqtt notifications disabled: %v", err)
		} else {
			n = append(n, m)
		}
	}
	return n
}

func openCatalog(cfg *config.Config) (*catalog.Store, error) {
	return catalog.Open(cfg.Catalog.Path)
}
