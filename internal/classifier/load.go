package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// LoadError reports that the model or its class table could not be loaded.
// Classification stays disabled; the rest of the pipeline keeps running.
type LoadError struct {
	Asset string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Asset, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// OpenFunc opens a model from a local file.
type OpenFunc func(model, config string) (Model, error)

// Assets locates the model and its class table. Locations are file paths or
// http(s) URLs.
type Assets struct {
	ModelPath       string
	ModelConfigPath string
	ClassNamesPath  string

	// Open defaults to an OpenCV DNN model.
	Open OpenFunc
	// Client defaults to a client with a one minute timeout.
	Client *http.Client
}

func openDNN(model, config string) (Model, error) {
	return NewDNNModel(model, config)
}

// Load fetches the model and class table concurrently and combines them.
// Any failure yields a *LoadError and nothing stays open.
func Load(ctx context.Context, assets Assets) (*Classifier, error) {
	if assets.Open == nil {
		assets.Open = openDNN
	}
	if assets.Client == nil {
		assets.Client = &http.Client{Timeout: time.Minute}
	}

	var (
		model      Model
		classNames []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := loadModel(gctx, assets)
		if err != nil {
			return &LoadError{Asset: "model", Err: err}
		}
		model = m
		return nil
	})
	g.Go(func() error {
		names, err := loadClassNames(gctx, assets.Client, assets.ClassNamesPath)
		if err != nil {
			return &LoadError{Asset: "class names", Err: err}
		}
		classNames = names
		return nil
	})

	if err := g.Wait(); err != nil {
		if model != nil {
			model.Close()
		}
		return nil, err
	}

	c, err := New(model, classNames)
	if err != nil {
		model.Close()
		return nil, &LoadError{Asset: "classifier", Err: err}
	}
	return c, nil
}

// LoadClassNames reads a JSON array of labels from a file or URL.
func LoadClassNames(ctx context.Context, location string) ([]string, error) {
	return loadClassNames(ctx, http.DefaultClient, location)
}

func loadClassNames(ctx context.Context, client *http.Client, location string) ([]string, error) {
	data, err := readAsset(ctx, client, location)
	if err != nil {
		return nil, err
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decode class names: %w", err)
	}
	if len(names) == 0 {
		return nil, ErrNoClassNames
	}
	return names, nil
}

func loadModel(ctx context.Context, assets Assets) (Model, error) {
	if assets.ModelPath == "" {
		return nil, errors.New("no model path configured")
	}

	modelFile, cleanupModel, err := localCopy(ctx, assets.Client, assets.ModelPath)
	if err != nil {
		return nil, err
	}
	defer cleanupModel()

	configFile := ""
	if assets.ModelConfigPath != "" {
		f, cleanupConfig, err := localCopy(ctx, assets.Client, assets.ModelConfigPath)
		if err != nil {
			return nil, err
		}
		defer cleanupConfig()
		configFile = f
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m, err := assets.Open(modelFile, configFile)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	return m, nil
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// localCopy returns a local path for location, downloading remote assets to a
// temporary file that keeps the original extension.
func localCopy(ctx context.Context, client *http.Client, location string) (string, func(), error) {
	if !isRemote(location) {
		if _, err := os.Stat(location); err != nil {
			return "", nil, err
		}
		return location, func() {}, nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return "", nil, fmt.Errorf("parse url: %w", err)
	}

	body, err := fetch(ctx, client, location)
	if err != nil {
		return "", nil, err
	}
	defer body.Close()

	f, err := os.CreateTemp("", "mudra-*"+path.Ext(u.Path))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("download %s: %w", location, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	return f.Name(), cleanup, nil
}

func readAsset(ctx context.Context, client *http.Client, location string) ([]byte, error) {
	if location == "" {
		return nil, errors.New("no location configured")
	}
	if !isRemote(location) {
		return os.ReadFile(location)
	}

	body, err := fetch(ctx, client, location)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func fetch(ctx context.Context, client *http.Client, location string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", location, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: unexpected status %s", location, resp.Status)
	}
	return resp.Body, nil
}
