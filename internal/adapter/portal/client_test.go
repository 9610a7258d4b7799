package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/gisops/layerkeeper/internal/config"
	"github.com/gisops/layerkeeper/internal/domain"
)

// portalFixture is a minimal sharing REST endpoint for the client tests.
type portalFixture struct {
	mux           http.ServeMux
	tokenCalls    atomic.Int64
	statusCalls   atomic.Int64
	deleteCalls   atomic.Int64
	failDelete    bool
	failExport    bool
	searchResults []map[string]string
	payload       []byte
}

func newPortalFixture() *portalFixture {
	f := &portalFixture{payload: []byte("PK\x03\x04 geodatabase bytes")}

	f.mux.HandleFunc("/sharing/rest/generateToken", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		if r.FormValue("username") != "svc_backup" || r.FormValue("password") != "hunter2" {
			writeJSON(w, map[string]interface{}{"error": map[string]interface{}{
				"code": 400, "message": "Unable to generate token.",
			}})
			return
		}
		writeJSON(w, map[string]interface{}{
			"token":   "tok-1",
			"expires": time.Now().Add(2 * time.Hour).UnixMilli(),
		})
	})

	f.mux.HandleFunc("/sharing/rest/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			writeJSON(w, map[string]interface{}{"error": map[string]interface{}{
				"code": 403, "message": "token required",
			}})
			return
		}
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		num, _ := strconv.Atoi(r.URL.Query().Get("num"))
		if start < 1 {
			start = 1
		}

		from := start - 1
		if from > len(f.searchResults) {
			from = len(f.searchResults)
		}
		to := from + num
		if to > len(f.searchResults) {
			to = len(f.searchResults)
		}

		next := to + 1
		if to >= len(f.searchResults) {
			next = -1
		}
		writeJSON(w, map[string]interface{}{
			"total":     len(f.searchResults),
			"nextStart": next,
			"results":   f.searchResults[from:to],
		})
	})

	f.mux.HandleFunc("/sharing/rest/content/items/layer-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{
			"id": "layer-1", "title": "City Parcels", "owner": "svc_backup", "type": "Feature Service",
		})
	})

	f.mux.HandleFunc("/sharing/rest/content/items/missing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"error": map[string]interface{}{
			"code": 400, "message": "Item does not exist or is inaccessible.",
		}})
	})

	f.mux.HandleFunc("/sharing/rest/content/users/svc_backup/export", func(w http.ResponseWriter, r *http.Request) {
		if f.failExport {
			writeJSON(w, map[string]interface{}{"error": map[string]interface{}{
				"code": 500, "message": "export not allowed",
			}})
			return
		}
		writeJSON(w, map[string]string{"exportItemId": "export-1", "jobId": "job-1"})
	})

	f.mux.HandleFunc("/sharing/rest/content/users/svc_backup/items/export-1/status", func(w http.ResponseWriter, r *http.Request) {
		f.statusCalls.Add(1)
		writeJSON(w, map[string]string{"status": "completed"})
	})

	f.mux.HandleFunc("/sharing/rest/content/items/export-1/data", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="City_Parcels_Backup.gdb.zip"`)
		w.Write(f.payload)
	})

	f.mux.HandleFunc("/sharing/rest/content/users/svc_backup/items/export-1/delete", func(w http.ResponseWriter, r *http.Request) {
		f.deleteCalls.Add(1)
		if f.failDelete {
			writeJSON(w, map[string]interface{}{"error": map[string]interface{}{
				"code": 500, "message": "delete failed",
			}})
			return
		}
		if r.FormValue("permanentDelete") != "true" {
			writeJSON(w, map[string]bool{"success": false})
			return
		}
		writeJSON(w, map[string]bool{"success": true})
	})

	return f
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, f *portalFixture) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(&f.mux)
	t.Cleanup(server.Close)

	client, err := New(&config.PortalConfig{
		URL:      server.URL,
		Username: "svc_backup",
		Password: "hunter2",
	})
	if err != nil {
		t.Fatal(err)
	}
	return client, server
}

func TestClient(t *testing.T) {
	Convey("Given a portal client against a fixture server", t, func() {
		ctx := context.Background()

		Convey("Connect", func() {
			Convey("With valid credentials", func() {
				fixture := newPortalFixture()
				client, _ := newTestClient(t, fixture)

				So(client.Connect(ctx), ShouldBeNil)

				Convey("The token should be cached across calls", func() {
					So(client.Connect(ctx), ShouldBeNil)
					So(fixture.tokenCalls.Load(), ShouldEqual, 1)
				})
			})

			Convey("With bad credentials", func() {
				fixture := newPortalFixture()
				server := httptest.NewServer(&fixture.mux)
				defer server.Close()

				client, err := New(&config.PortalConfig{
					URL: server.URL, Username: "svc_backup", Password: "wrong",
				})
				So(err, ShouldBeNil)

				err = client.Connect(ctx)
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "Unable to generate token")
			})
		})

		Convey("Search", func() {
			fixture := newPortalFixture()
			results := make([]map[string]string, 101)
			for i := range results {
				results[i] = map[string]string{
					"id": fmt.Sprintf("layer-%d", i), "title": fmt.Sprintf("Layer %d", i),
					"owner": "svc_backup", "type": "Feature Service",
				}
			}
			fixture.searchResults = results

			client, _ := newTestClient(t, fixture)

			Convey("It should page through results up to max", func() {
				items, err := client.Search(ctx, domain.OwnerTypeQuery("svc_backup", domain.TypeFeatureService), 700)
				So(err, ShouldBeNil)
				So(len(items), ShouldEqual, 101)
				So(items[0].Title, ShouldEqual, "Layer 0")
				So(items[100].ID, ShouldEqual, "layer-100")
			})

			Convey("It should stop exactly at max", func() {
				items, err := client.Search(ctx, "owner:svc_backup", 50)
				So(err, ShouldBeNil)
				So(len(items), ShouldEqual, 50)
			})
		})

		Convey("Get", func() {
			fixture := newPortalFixture()
			client, _ := newTestClient(t, fixture)

			Convey("For an existing item", func() {
				item, err := client.Get(ctx, "layer-1")
				So(err, ShouldBeNil)
				So(item.Title, ShouldEqual, "City Parcels")
				So(item.Type, ShouldEqual, domain.TypeFeatureService)
			})

			Convey("For a missing item", func() {
				item, err := client.Get(ctx, "missing")
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "does not exist")
				So(item, ShouldBeNil)
			})
		})

		Convey("Export and Download", func() {
			fixture := newPortalFixture()
			client, _ := newTestClient(t, fixture)

			tempDir, err := os.MkdirTemp("", "portal_download_test")
			So(err, ShouldBeNil)
			defer os.RemoveAll(tempDir)

			Convey("When the job completes", func() {
				export, err := client.Export(ctx, "layer-1", "City_Parcels_Backup", domain.ExportFormatFGDB)
				So(err, ShouldBeNil)
				So(export.ItemID(), ShouldEqual, "export-1")

				path, err := export.Download(ctx, tempDir)
				So(err, ShouldBeNil)
				So(path, ShouldEqual, filepath.Join(tempDir, "City_Parcels_Backup.gdb.zip"))

				content, err := os.ReadFile(path)
				So(err, ShouldBeNil)
				So(content, ShouldResemble, fixture.payload)
				So(fixture.statusCalls.Load(), ShouldBeGreaterThanOrEqualTo, 1)
			})

			Convey("When the portal rejects the export", func() {
				fixture.failExport = true

				export, err := client.Export(ctx, "layer-1", "City_Parcels_Backup", domain.ExportFormatFGDB)
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "export not allowed")
				So(export, ShouldBeNil)
			})
		})

		Convey("Delete", func() {
			fixture := newPortalFixture()
			client, _ := newTestClient(t, fixture)

			Convey("When the portal accepts", func() {
				So(client.Delete(ctx, "export-1"), ShouldBeNil)
				So(fixture.deleteCalls.Load(), ShouldEqual, 1)
			})

			Convey("When the portal reports an error", func() {
				fixture.failDelete = true

				err := client.Delete(ctx, "export-1")
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "delete failed")
			})
		})
	})
}
