package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/shipd-io/shipd/pkg/event"
	"github.com/shipd-io/shipd/pkg/run"
	"github.com/shipd-io/shipd/pkg/trigger"
)

// client talks to a shipd daemon over its HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{
		base: strings.TrimSuffix(base, "/"),
		http: http.DefaultClient,
	}
}

func (c *client) Trigger(ev trigger.Event) (*run.Run, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Post(c.base+"/trigger", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusAccepted:
		var r run.Run
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return nil, err
		}
		return &r, nil
	default:
		return nil, apiError(resp)
	}
}

func (c *client) ListRuns() ([]*run.Run, error) {
	var runs []*run.Run
	return runs, c.get("/runs", &runs)
}

func (c *client) GetRun(id string) (*run.Run, error) {
	var r run.Run
	if err := c.get("/runs/"+id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *client) RunEvents(id string) ([]event.Event, error) {
	var evs []event.Event
	return evs, c.get("/runs/"+id+"/events", &evs)
}

func (c *client) Approve(id string) error { return c.post("/runs/" + id + "/approve") }
func (c *client) Reject(id string) error  { return c.post("/runs/" + id + "/reject") }
func (c *client) Cancel(id string) error  { return c.post("/runs/" + id + "/cancel") }

func (c *client) get(path string, into interface{}) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

func (c *client) post(path string) error {
	resp, err := c.http.Post(c.base+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return apiError(resp)
	}
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
		Help  string `json:"help,omitempty"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Error != "" && payload.Help != "":
			return fmt.Errorf("%s\n%s", payload.Error, payload.Help)
		case payload.Error != "":
			return errors.New(payload.Error)
		case payload.Help != "":
			return errors.New(payload.Help)
		}
	}
	return fmt.Errorf("server returned %s", resp.Status)
}
