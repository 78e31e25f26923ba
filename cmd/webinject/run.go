package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"webinject/internal/browser"
	"webinject/internal/channel"
	"webinject/internal/controller"
	"webinject/internal/domain"
	"webinject/internal/inject"
	"webinject/internal/metrics"
	"webinject/internal/profile"
	"webinject/internal/trigger"
)

func runCmd() *cobra.Command {
	var profileName string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the injection daemon (browser + channel + trigger endpoint)",
		Long:  "Starts the managed browser, the configured message channel and the trigger endpoint. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(profileName)
		},
	}
	cmd.Flags().StringVarP(&profileName, "profile", "p", "", "activate a named injection profile instead of the config payload")
	return cmd
}

func runDaemon(profileName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := buildLogger(cfg)

	spec := cfg.Injection.Inject
	tag := cfg.Injection.InstanceTag
	filterURL := cfg.Injection.FilterURL

	if profileName != "" {
		profiles, err := profile.LoadFromDirectory(cfg.Profiles.Dir, log)
		if err != nil {
			return err
		}
		p, ok := profile.Find(profiles, profileName)
		if !ok {
			return fmt.Errorf("unknown profile %q", profileName)
		}
		spec = p.Spec()
		tag = p.InstanceTag
		filterURL = p.FilterURL
		log.Info("using injection profile", "name", p.Name)
	}

	if cfg.Injection.Bootstrap {
		// The in-page hook must land with the payload so re-probes find a
		// listener; it goes in as the first script source.
		boot := inject.Source{Options: &inject.SourceOptions{Code: browser.AgentBootstrap(tag)}}
		spec.Scripts = append(inject.SourceList{boot}, spec.Scripts...)
	}

	bridge := browser.NewBridge(browser.BridgeConfig{
		ProfileDir: cfg.Browser.ProfileDir,
		Headless:   cfg.Browser.Headless,
		Logger:     log,
	})
	if err := bridge.Start(ctx); err != nil {
		return err
	}
	defer bridge.Stop()

	resolver := browser.NewResolver(bridge)
	injector := browser.NewInjector(bridge, log)

	var reqChannel domain.RequestChannel
	switch cfg.Channel.Mode {
	case "websocket":
		srv := channel.NewServer(channel.ServerConfig{
			Port:           cfg.Channel.WebSocket.Port,
			Path:           cfg.Channel.WebSocket.Path,
			RequestTimeout: time.Duration(cfg.Channel.WebSocket.RequestTimeout) * time.Second,
			Logger:         log,
		})
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Error("websocket channel stopped", "err", err)
				stop()
			}
		}()
		reqChannel = srv
	default:
		reqChannel = browser.NewChannel(bridge, log)
	}

	var filterTarget func(domain.TargetDescriptor) bool
	if filterURL != "" {
		re, err := regexp.Compile(filterURL)
		if err != nil {
			return fmt.Errorf("injection.filterUrl: %w", err)
		}
		filterTarget = func(d domain.TargetDescriptor) bool { return re.MatchString(d.URL) }
	}

	var triggerSource domain.TriggerSource
	if cfg.Trigger.Enabled {
		src := trigger.NewHTTP(trigger.HTTPConfig{
			Port:   cfg.Trigger.Port,
			Path:   cfg.Trigger.Path,
			Logger: log,
		})
		go func() {
			if err := src.Start(ctx); err != nil {
				log.Error("trigger endpoint stopped", "err", err)
				stop()
			}
		}()
		triggerSource = &resolvingSource{inner: src, resolver: resolver}
	}

	if _, err := controller.Setup(controller.Options{
		Channel:      reqChannel,
		Injector:     injector,
		Inject:       spec,
		FilterTarget: filterTarget,
		InstanceTag:  tag,
		Trigger:      triggerSource,
		ManualOnly:   !cfg.Injection.TriggerBound(),
		Logger:       log,
	}); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", metrics.Collector.Handler())
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("metrics endpoint starting", "port", cfg.Metrics.Port)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics endpoint stopped", "err", err)
			}
		}()
		defer srv.Close()
	}

	log.Info("webinject running",
		"channel", cfg.Channel.Mode,
		"trigger", cfg.Trigger.Enabled,
		"instanceTag", tagString(tag))

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// resolvingSource fills in URL and title for trigger events that arrive with
// only a target identifier, so the filter predicate sees a full descriptor.
type resolvingSource struct {
	inner    domain.TriggerSource
	resolver *browser.Resolver
}

func (s *resolvingSource) Subscribe(h domain.TriggerHandler) {
	s.inner.Subscribe(func(ctx context.Context, d domain.TargetDescriptor) {
		if d.TargetID != "" && d.URL == "" {
			if full, ok, err := s.resolver.Resolve(ctx, d.TargetID); err == nil && ok {
				d = full
			}
		}
		h(ctx, d)
	})
}

func tagString(tag *string) string {
	if tag == nil {
		return "(default)"
	}
	return *tag
}

func targetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List open tabs of the managed browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := buildLogger(cfg)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			bridge := browser.NewBridge(browser.BridgeConfig{
				ProfileDir: cfg.Browser.ProfileDir,
				Headless:   cfg.Browser.Headless,
				Logger:     log,
			})
			if err := bridge.Start(ctx); err != nil {
				return err
			}
			defer bridge.Stop()

			targets, err := browser.NewResolver(bridge).List(ctx)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				fmt.Println("no open tabs")
				return nil
			}
			for _, t := range targets {
				fmt.Printf("%s\t%s\t%s\n", t.TargetID, t.URL, t.Title)
			}
			return nil
		},
	}
}

func activateCmd() *cobra.Command {
	var profileName string
	cmd := &cobra.Command{
		Use:   "activate <target-id>",
		Short: "Run one activation sequence against a tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := buildLogger(cfg)

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			spec := cfg.Injection.Inject
			tag := cfg.Injection.InstanceTag
			if profileName != "" {
				profiles, err := profile.LoadFromDirectory(cfg.Profiles.Dir, log)
				if err != nil {
					return err
				}
				p, ok := profile.Find(profiles, profileName)
				if !ok {
					return fmt.Errorf("unknown profile %q", profileName)
				}
				spec = p.Spec()
				tag = p.InstanceTag
			}
			if cfg.Injection.Bootstrap {
				boot := inject.Source{Options: &inject.SourceOptions{Code: browser.AgentBootstrap(tag)}}
				spec.Scripts = append(inject.SourceList{boot}, spec.Scripts...)
			}

			bridge := browser.NewBridge(browser.BridgeConfig{
				ProfileDir: cfg.Browser.ProfileDir,
				Headless:   cfg.Browser.Headless,
				Logger:     log,
			})
			if err := bridge.Start(ctx); err != nil {
				return err
			}
			defer bridge.Stop()

			ctrl, err := controller.Setup(controller.Options{
				Channel:     browser.NewChannel(bridge, log),
				Injector:    browser.NewInjector(bridge, log),
				Inject:      spec,
				InstanceTag: tag,
				ManualOnly:  true,
				Logger:      log,
			})
			if err != nil {
				return err
			}

			target, ok, err := browser.NewResolver(bridge).Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				// Unknown tab: same silent no-op the protocol applies to
				// closed targets, but say so on the CLI.
				fmt.Printf("target %s not found\n", args[0])
				return nil
			}

			if err := ctrl.Activate(ctx, target); err != nil {
				return err
			}
			log.Info("activation sequence completed", "target", target.TargetID, "url", target.URL)
			return nil
		},
	}
	cmd.Flags().StringVarP(&profileName, "profile", "p", "", "use a named injection profile")
	return cmd
}
