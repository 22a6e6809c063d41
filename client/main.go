// Dev/test client for the local control API of the agent.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"

	"github.com/apex/log"

	"roadhazard/api"
)

const (
	contentType = "application/json"
)

var (
	serviceUrl = flag.String("url", "http://127.0.0.1:8090", "Base URL of the agent control API.")
	command    = flag.String("cmd", "all", "status, report, sync, pending, failed, nearby, retry, abandon or all.")
	itemID     = flag.String("id", "", "Queue item id for retry and abandon.")
)

func RandomizeFloat(v, max float64) float64 {
	return v + rand.Float64()*2*max - max
}

func call(method, endpoint string, in interface{}) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			log.Errorf("Failed to encode the request: %v", err)
			return
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, *serviceUrl+endpoint, body)
	if err != nil {
		log.Errorf("Failed to build the request: %v", err)
		return
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Errorf("Failed to call the agent with %v", err)
		return
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	log.Infof("%s %s done, %s: %s", method, endpoint, resp.Status, string(out))
}

func doStatus() {
	call(http.MethodGet, api.StatusEndpoint, nil)
}

func doReport() {
	call(http.MethodPost, api.SubmitReportEndpoint, api.SubmitReportArgs{
		Type:     api.HazardPothole,
		Severity: api.SeverityMedium,
		Address:  fmt.Sprintf("Test St %d", rand.Intn(100)),
		Notes:    "dev client",
		Location: &api.Point{
			Lat: RandomizeFloat(35.1293548, 0.01),
			Lon: RandomizeFloat(-90.1222609, 0.01),
		},
	})
}

func doSync() {
	call(http.MethodPost, api.SyncNowEndpoint, nil)
}

func doPending() {
	call(http.MethodGet, api.PendingReportsEndpoint, nil)
}

func doFailed() {
	call(http.MethodGet, api.FailedItemsEndpoint, nil)
}

func doNearby() {
	call(http.MethodPost, api.NearbyLocalEndpoint, api.NearbyArgs{
		Version: api.Version,
		VPort: api.ViewPort{
			LatMin: 35.0,
			LonMin: -90.5,
			LatMax: 35.3,
			LonMax: -89.9,
		},
	})
}

func main() {
	flag.Parse()

	switch *command {
	case "status":
		doStatus()
	case "report":
		doReport()
	case "sync":
		doSync()
	case "pending":
		doPending()
	case "failed":
		doFailed()
	case "nearby":
		doNearby()
	case "retry":
		call(http.MethodPost, api.RetryFailedEndpoint, api.ItemArgs{Id: *itemID})
	case "abandon":
		call(http.MethodPost, api.AbandonEndpoint, api.ItemArgs{Id: *itemID})
	case "all":
		doStatus()
		doReport()
		doPending()
		doSync()
		doFailed()
		doNearby()
		doStatus()
	default:
		log.Errorf("Unknown command %q", *command)
	}
}
