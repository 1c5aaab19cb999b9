package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/slivotov/GDLogTool/http_gateway"
	"github.com/slivotov/GDLogTool/logstore"
	mbp "github.com/slivotov/GDLogTool/mainboilerplate"
	"github.com/slivotov/GDLogTool/metrics"
	"github.com/slivotov/GDLogTool/notify"
	"github.com/slivotov/GDLogTool/pathcodec"
)

const iniFilename = "logstored.ini"

// Config is the top-level configuration object of logstored.
var Config = new(struct {
	Store StoreConfig `group:"Store" namespace:"store" env-namespace:"STORE"`

	SMTP notify.Config `group:"SMTP" namespace:"smtp" env-namespace:"SMTP"`

	HTTP struct {
		Port        uint16        `long:"port" env:"PORT" default:"8080" description:"Port of the HTTP gateway and debug endpoints"`
		GracePeriod time.Duration `long:"grace-period" env:"GRACE_PERIOD" default:"10s" description:"Time allowed for in-flight requests to complete on shutdown"`
		MaxConns    int           `long:"max-conns" env:"MAX_CONNS" default:"256" description:"Maximum number of concurrent HTTP connections. Zero is unlimited"`
	} `group:"HTTP" namespace:"http" env-namespace:"HTTP"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
})

// StoreConfig configures the log store.
type StoreConfig struct {
	Root     string `long:"root" env:"ROOT" default:"/var/lib/logstored" description:"Root directory of the log store"`
	MaxSize  string `long:"max-size" env:"MAX_SIZE" default:"1GiB" description:"Size at which the oldest days of logs are evicted (eg, 500MB, 2GiB). Zero is unbounded"`
	PageSize string `long:"page-size" env:"PAGE_SIZE" default:"64KiB" description:"Read buffer size used when searching log files"`
	Location string `long:"location" env:"LOCATION" default:"UTC" description:"Time zone in which days and times of log lines are rendered"`
}

// open the Store described by the StoreConfig.
func (cfg StoreConfig) open(opts ...logstore.Option) (*logstore.Store, error) {
	var maxSize, err = humanize.ParseBytes(cfg.MaxSize)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing --store.max-size %q", cfg.MaxSize)
	}
	pageSize, err := humanize.ParseBytes(cfg.PageSize)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing --store.page-size %q", cfg.PageSize)
	}
	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return nil, errors.Wrapf(err, "loading --store.location %q", cfg.Location)
	}

	opts = append([]logstore.Option{logstore.WithCodec(pathcodec.Codec{Location: loc})}, opts...)

	return logstore.New(logstore.Config{
		Root:     cfg.Root,
		MaxSize:  int64(maxSize),
		PageSize: int(pageSize),
	}, opts...)
}

type cmdServe struct{}

func (cmdServe) Execute(args []string) error {
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics)()
	mbp.InitLog(Config.Log)

	log.WithFields(log.Fields{
		"store": Config.Store,
		"port":  Config.HTTP.Port,
		"smtp":  Config.SMTP.Host,
	}).Info("starting logstored")
	prometheus.MustRegister(metrics.LogStoreCollectors()...)

	// Guard against a second process accounting for the same store root.
	mbp.Must(os.MkdirAll(filepath.Dir(Config.Store.Root), 0750), "failed to create store parent directory")
	var lock = flock.New(Config.Store.Root + ".lock")
	var locked, err = lock.TryLock()
	mbp.Must(err, "failed to lock store root", "lock", lock.Path())
	if !locked {
		mbp.Must(errors.New("store root is locked by another process"), "failed to lock store root", "lock", lock.Path())
	}
	defer lock.Unlock()

	var opts []logstore.Option
	if Config.SMTP.Enabled() {
		var notifier, err = notify.NewSMTP(Config.SMTP)
		mbp.Must(err, "failed to build SMTP notifier")
		opts = append(opts, logstore.WithNotifier(notifier))
	} else {
		log.Warn("--smtp.host not set; alerts will be recorded but not delivered")
	}

	store, err := Config.Store.open(opts...)
	mbp.Must(err, "failed to open log store", "root", Config.Store.Root)

	http.Handle("/", http_gateway.NewGateway(store))
	var srv = &http.Server{
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", Config.HTTP.Port))
	mbp.Must(err, "failed to bind HTTP port", "port", Config.HTTP.Port)

	if Config.HTTP.MaxConns > 0 {
		listener = netutil.LimitListener(listener, Config.HTTP.MaxConns)
	}

	var ctx, cancel = signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	var tasks, tasksCtx = errgroup.WithContext(ctx)

	tasks.Go(func() error {
		if err := srv.Serve(listener); err != http.ErrServerClosed {
			return errors.WithMessage(err, "http.Serve")
		}
		return nil
	})
	tasks.Go(func() error {
		<-tasksCtx.Done()
		log.Info("shutting down HTTP gateway")

		var shutdownCtx, cancel = context.WithTimeout(context.Background(), Config.HTTP.GracePeriod)
		defer cancel()
		return errors.WithMessage(srv.Shutdown(shutdownCtx), "http.Shutdown")
	})

	// Block until all tasks complete. Assert none returned an error.
	mbp.Must(tasks.Wait(), "logstored task failed")
	log.Info("goodbye")

	return nil
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve the log store over HTTP", `
Serve the log store with the provided configuration, until signaled to
exit (via SIGTERM or SIGINT). In-flight requests are allowed to complete
before the process exits.
`, &cmdServe{})

	_, _ = parser.AddCommand("inspect", "Summarize the contents of the log store", `
Inspect opens the log store with the provided configuration, and prints a
table of its directories with their log file counts, followed by its size,
quota, and indexed days. Log files are not modified.
`, &cmdInspect{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
