package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"OnChainAgents/sdk/go/agents"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/agents", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(agents.CreateAgentsResult{
			Success:    true,
			AgentCount: 1,
			Version:    1,
			Agents: []agents.Agent{{
				Name:          "agent1",
				Functions:     []string{"get_balance"},
				WalletAddress: "0x0000000000000000000000000000000000000001",
				WalletID:      "demo-identity",
			}},
		})
	})
	mux.HandleFunc("/agents/run", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(agents.RunResult{Success: true, Result: "Balance of eth is 0.5"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := agents.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := client.CreateAgents(ctx, "check my balance", "")
	if err != nil {
		panic(err)
	}
	fmt.Printf("pool version %d with %d agent(s)\n", created.Version, created.AgentCount)

	run, err := client.Run(ctx, 0, "what is my eth balance?", created.Agents[0].WalletID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("agent1 replied: %s\n", run.Result)
}
