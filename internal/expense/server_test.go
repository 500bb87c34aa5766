package expense

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/expense-tracker/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		store       *failingStore
		storage     *mockStorage
		scanner     *mockScanner
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.ServeHTTP)
		}
	}

	do := func(method, path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	doJSON := func(method, path string, v any) *http.Response {
		b, err := json.Marshal(v)
		Expect(err).NotTo(HaveOccurred())
		return do(method, path, bytes.NewReader(b), "application/json")
	}

	readBody := func(resp *http.Response) []byte {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return body
	}

	decode := func(resp *http.Response, v any) {
		Expect(json.Unmarshal(readBody(resp), v)).To(Succeed())
	}

	multipartBody := func(files map[string]string, order ...string) (*bytes.Buffer, string) {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		for _, name := range order {
			part, err := writer.CreateFormFile("file", name)
			Expect(err).NotTo(HaveOccurred())
			part.Write([]byte(files[name]))
		}
		writer.Close()
		return &b, writer.FormDataContentType()
	}

	BeforeEach(func() {
		store = newFailingStore()
		storage = newMockStorage()
		scanner = newMockScanner()
		service = NewServiceWithDeps(store, scanner, storage,
			&mockIDGenerator{prefix: "id"},
			&mockTimeSource{now: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)})
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleIndex", func() {
		It("should return HTML containing Expense Tracker", func() {
			resp := do("GET", "/", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/html; charset=utf-8"))
			Expect(string(readBody(resp))).To(ContainSubstring("Expense Tracker"))
		})

		When("request method is not GET", func() {
			It("should return status Method Not Allowed", func() {
				resp := do("POST", "/", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
				resp.Body.Close()
			})
		})
	})

	Describe("static assets", func() {
		It("serves the stylesheet", func() {
			resp := do("GET", "/static/app.css", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/css"))
			resp.Body.Close()
		})

		It("serves the script", func() {
			resp := do("GET", "/static/app.js", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/javascript; charset=utf-8"))
			resp.Body.Close()
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			resp := do("OPTIONS", "/api/expenses", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
			resp.Body.Close()
		})

		It("sets headers on error responses", func() {
			resp := do("GET", "/api/expenses/missing", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			resp.Body.Close()
		})
	})

	Describe("requireAuth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pa:ss"}
			setupServer()
		})

		It("rejects requests without credentials", func() {
			resp := do("GET", "/api/expenses", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Expense Tracker"))
			resp.Body.Close()
		})

		It("rejects wrong credentials", func() {
			req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/expenses", nil)
			req.SetBasicAuth("user", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})

		It("accepts valid credentials, including a colon in the password", func() {
			req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/expenses", nil)
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pa:ss")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})

		DescribeTable("rejects malformed or partial credentials",
			func(header string) {
				req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/expenses", nil)
				req.Header.Set("Authorization", header)
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			},
			Entry("not base64", "Basic !!!"),
			Entry("no colon", "Basic "+base64.StdEncoding.EncodeToString([]byte("userpa:ss"))),
			Entry("password prefix", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pa"))),
			Entry("bearer scheme", "Bearer user:pa:ss"),
		)

		It("protects metrics too", func() {
			resp := do("GET", "/metrics", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})
	})

	Describe("handleScan", func() {
		When("one file is uploaded", func() {
			It("returns the unsaved expense", func() {
				body, ct := multipartBody(map[string]string{"receipt.jpg": "img"}, "receipt.jpg")
				resp := do("POST", "/api/expenses/scan", body, ct)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var e Expense
				decode(resp, &e)
				Expect(e.ID).To(Equal("id-1"))
				Expect(e.Vendor).To(Equal("Blue Bottle"))
				Expect(e.ReceiptURL).To(Equal("/api/receipts/id-1_receipt.jpg"))

				expenses, _ := store.ListExpenses()
				Expect(expenses).To(BeEmpty())
			})
		})

		When("several files are uploaded", func() {
			BeforeEach(func() {
				scanner.failOn["bad"] = &scanning.UnparseableResponseError{Text: "nope", Err: errors.New("no JSON object")}
			})

			It("returns one result per file in order", func() {
				body, ct := multipartBody(map[string]string{"a.jpg": "good", "b.jpg": "bad"}, "a.jpg", "b.jpg")
				resp := do("POST", "/api/expenses/scan", body, ct)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var results []ScanResult
				decode(resp, &results)
				Expect(results).To(HaveLen(2))
				Expect(results[0].Filename).To(Equal("a.jpg"))
				Expect(results[0].Expense).NotTo(BeNil())
				Expect(results[1].Filename).To(Equal("b.jpg"))
				Expect(results[1].Error).To(ContainSubstring("failed to parse receipt data"))
			})
		})

		DescribeTable("extraction failures return Bad Gateway",
			func(scanErr error, message string) {
				scanner.scanErr = scanErr
				body, ct := multipartBody(map[string]string{"r.jpg": "img"}, "r.jpg")
				resp := do("POST", "/api/expenses/scan", body, ct)
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))

				var payload map[string]string
				decode(resp, &payload)
				Expect(payload["error"]).To(ContainSubstring(message))
			},
			Entry("transport", &scanning.TransportError{Provider: "Anthropic", Err: errors.New("401 invalid x-api-key")}, "Anthropic request failed"),
			Entry("no text", scanning.ErrNoTextResponse, "no text response"),
			Entry("unparseable", &scanning.UnparseableResponseError{Text: "sorry", Err: errors.New("no JSON object")}, "failed to parse receipt data"),
		)

		When("the client goes away mid-scan", func() {
			BeforeEach(func() {
				scanner.entered = make(chan struct{})
				scanner.release = make(chan struct{})
			})

			It("finishes the scan on a context that is not cancelled", func() {
				body, ct := multipartBody(map[string]string{"r.jpg": "img"}, "r.jpg")
				ctx, cancel := context.WithCancel(context.Background())
				req := httptest.NewRequest("POST", "/api/expenses/scan", body).WithContext(ctx)
				req.Header.Set("Content-Type", ct)
				rec := httptest.NewRecorder()

				done := make(chan struct{})
				go func() {
					defer close(done)
					server.ServeHTTP(rec, req)
				}()

				Eventually(scanner.entered).Should(BeClosed())
				cancel()
				close(scanner.release)
				Eventually(done).Should(BeClosed())

				Expect(scanner.scanCtxErr).NotTo(HaveOccurred())
				Expect(rec.Code).To(Equal(http.StatusOK))
				Expect(storage.has("id-1_r.jpg")).To(BeTrue())
			})
		})

		When("a scanned amount cannot be encoded", func() {
			BeforeEach(func() {
				scanner.receiptData.Amount = math.Inf(1)
			})

			It("returns a JSON Internal Server Error instead of an empty body", func() {
				body, ct := multipartBody(map[string]string{"r.jpg": "img"}, "r.jpg")
				resp := do("POST", "/api/expenses/scan", body, ct)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

				var payload map[string]string
				decode(resp, &payload)
				Expect(payload["error"]).To(Equal("Internal server error"))
			})
		})

		When("storage fails", func() {
			BeforeEach(func() {
				storage.saveErr = errors.New("disk full")
			})

			It("returns Internal Server Error without the cause", func() {
				body, ct := multipartBody(map[string]string{"r.jpg": "img"}, "r.jpg")
				resp := do("POST", "/api/expenses/scan", body, ct)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(string(readBody(resp))).NotTo(ContainSubstring("disk full"))
			})
		})

		When("no file is provided", func() {
			It("returns Bad Request", func() {
				body, ct := multipartBody(nil)
				resp := do("POST", "/api/expenses/scan", body, ct)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var payload map[string]string
				decode(resp, &payload)
				Expect(payload["error"]).To(ContainSubstring("No file was selected"))
			})
		})

		When("the body is not multipart", func() {
			It("returns Bad Request", func() {
				resp := do("POST", "/api/expenses/scan", strings.NewReader("{}"), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("expenses", func() {
		When("creating", func() {
			It("returns Created with the saved expense", func() {
				resp := doJSON("POST", "/api/expenses", map[string]any{
					"date": "2024-03-01", "vendor": "Shell", "amount": 40, "category": "Travel",
				})
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var e Expense
				decode(resp, &e)
				Expect(e.ID).To(Equal("id-1"))
				Expect(e.Currency).To(Equal("USD"))
			})

			It("rejects a negative amount", func() {
				resp := doJSON("POST", "/api/expenses", map[string]any{"date": "2024-03-01", "amount": -5})
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})

			It("rejects malformed JSON", func() {
				resp := do("POST", "/api/expenses", strings.NewReader("{"), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("expenses exist", func() {
			created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

			BeforeEach(func() {
				storage.files["e1_r.jpg"] = []byte("\xff\xd8\xff\xe0jpeg")
				Expect(store.SaveExpense(&Expense{ID: "e1", Date: "2024-01-05", Vendor: "Shell", Amount: 40, Category: "Travel", ReceiptURL: "/api/receipts/e1_r.jpg", CreatedAt: created, Confidence: ConfidenceHigh})).To(Succeed())
				Expect(store.SaveExpense(&Expense{ID: "e2", Date: "2024-03-02", Vendor: "Lunch", Amount: 12.5, Category: "Meals", PaymentMethod: "Cash", CreatedAt: created, Confidence: ConfidenceHigh})).To(Succeed())
			})

			It("lists them newest first", func() {
				resp := do("GET", "/api/expenses", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var expenses []*Expense
				decode(resp, &expenses)
				Expect(ids(expenses, expenseID)).To(Equal([]string{"e2", "e1"}))
			})

			It("filters by query parameters", func() {
				resp := do("GET", "/api/expenses?category=Travel", nil, "")
				var expenses []*Expense
				decode(resp, &expenses)
				Expect(ids(expenses, expenseID)).To(Equal([]string{"e1"}))
			})

			It("gets one by id", func() {
				resp := do("GET", "/api/expenses/e1", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var e Expense
				decode(resp, &e)
				Expect(e.Vendor).To(Equal("Shell"))
			})

			It("updates using the id from the path", func() {
				resp := doJSON("PUT", "/api/expenses/e1", map[string]any{
					"id": "ignored", "date": "2024-01-06", "vendor": "Chevron", "amount": 41, "category": "Travel",
				})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var e Expense
				decode(resp, &e)
				Expect(e.ID).To(Equal("e1"))
				Expect(e.Vendor).To(Equal("Chevron"))
				Expect(e.CreatedAt.Equal(created)).To(BeTrue())
				Expect(e.ReceiptURL).To(Equal("/api/receipts/e1_r.jpg"))

				expenses, _ := store.ListExpenses()
				Expect(expenses).To(HaveLen(2))
			})

			It("returns Not Found when updating a missing id", func() {
				resp := doJSON("PUT", "/api/expenses/missing", map[string]any{"date": "2024-01-06"})
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})

			It("deletes one", func() {
				resp := do("DELETE", "/api/expenses/e1", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				resp.Body.Close()

				expenses, _ := store.ListExpenses()
				Expect(ids(expenses, expenseID)).To(Equal([]string{"e2"}))
				Expect(storage.has("e1_r.jpg")).To(BeFalse())
			})

			It("serves the receipt image", func() {
				resp := do("GET", "/api/receipts/e1_r.jpg", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
				Expect(readBody(resp)).To(Equal([]byte("\xff\xd8\xff\xe0jpeg")))
			})

			It("returns Not Found for a missing receipt image", func() {
				resp := do("GET", "/api/receipts/nope.jpg", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})

			It("returns Internal Server Error when the store fails", func() {
				store.listErr = errors.New("boltdb closed")
				resp := do("GET", "/api/expenses", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(string(readBody(resp))).To(ContainSubstring("Internal server error"))
			})

			Describe("reports", func() {
				It("summarizes", func() {
					resp := do("GET", "/api/reports/summary", nil, "")
					var summary Summary
					decode(resp, &summary)
					Expect(summary.Count).To(Equal(2))
					Expect(summary.Total).To(Equal(52.5))
					Expect(summary.ByCategory[0].Category).To(Equal(Category("Travel")))
				})

				It("builds the dashboard for the current month", func() {
					resp := do("GET", "/api/reports/dashboard", nil, "")
					var dashboard Dashboard
					decode(resp, &dashboard)
					Expect(dashboard.MonthCount).To(Equal(1))
					Expect(dashboard.MonthTotal).To(Equal(12.5))
				})
			})

			Describe("exports", func() {
				It("downloads CSV", func() {
					resp := do("GET", "/api/export/csv?sort=date&order=asc", nil, "")
					Expect(resp.StatusCode).To(Equal(http.StatusOK))
					Expect(resp.Header.Get("Content-Type")).To(Equal("text/csv; charset=utf-8"))
					Expect(resp.Header.Get("Content-Disposition")).To(Equal(`attachment; filename="expenses-2024-03-15.csv"`))

					lines := strings.Split(strings.TrimSpace(string(readBody(resp))), "\n")
					Expect(lines).To(HaveLen(3))
					Expect(lines[1]).To(HavePrefix(`"2024-01-05","Shell"`))
				})

				It("downloads XLSX", func() {
					resp := do("GET", "/api/export/xlsx", nil, "")
					Expect(resp.StatusCode).To(Equal(http.StatusOK))
					Expect(resp.Header.Get("Content-Type")).To(Equal("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))
					// xlsx is a zip archive
					Expect(readBody(resp)).To(HavePrefix("PK"))
				})

				It("returns clipboard text", func() {
					resp := do("GET", "/api/export/text?category=Meals", nil, "")
					Expect(string(readBody(resp))).To(Equal("2024-03-02\tLunch\tMeals\t$12.50\tCash"))
				})
			})
		})

		It("returns Not Found for a missing expense", func() {
			resp := do("GET", "/api/expenses/missing", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			var payload map[string]string
			decode(resp, &payload)
			Expect(payload["error"]).To(ContainSubstring("not found"))
		})
	})

	Describe("groups", func() {
		BeforeEach(func() {
			Expect(store.SaveExpense(&Expense{ID: "e1", Date: "2024-01-05", Amount: 200, Category: "Travel"})).To(Succeed())
			Expect(store.SaveExpense(&Expense{ID: "e2", Date: "2024-01-06", Amount: 30, Category: "Travel"})).To(Succeed())
		})

		createGroup := func() *Group {
			resp := doJSON("POST", "/api/groups", map[string]any{"name": "NYC", "expenseIds": []string{"e1"}})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var g Group
			decode(resp, &g)
			return &g
		}

		It("creates and lists groups", func() {
			g := createGroup()
			Expect(g.Name).To(Equal("NYC"))

			resp := do("GET", "/api/groups", nil, "")
			var groups []*Group
			decode(resp, &groups)
			Expect(groups).To(HaveLen(1))
		})

		It("requires a name", func() {
			resp := doJSON("POST", "/api/groups", map[string]any{"name": " "})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("returns a group with its expenses and summary", func() {
			g := createGroup()

			resp := do("GET", "/api/groups/"+g.ID, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var payload struct {
				Group    Group      `json:"group"`
				Expenses []*Expense `json:"expenses"`
				Summary  Summary    `json:"summary"`
			}
			decode(resp, &payload)
			Expect(payload.Group.ID).To(Equal(g.ID))
			Expect(ids(payload.Expenses, expenseID)).To(Equal([]string{"e1"}))
			Expect(payload.Summary.Total).To(Equal(200.0))
		})

		It("renames a group", func() {
			g := createGroup()

			resp := doJSON("PUT", "/api/groups/"+g.ID, map[string]any{"name": "Boston"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var updated Group
			decode(resp, &updated)
			Expect(updated.Name).To(Equal("Boston"))
		})

		It("assigns expenses", func() {
			g := createGroup()

			resp := doJSON("POST", "/api/groups/"+g.ID+"/expenses", map[string]any{"expenseIds": []string{"e2"}})
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()

			grouped, _ := service.ListExpenses(Filter{Group: g.ID})
			Expect(grouped).To(HaveLen(2))
		})

		It("deletes a group and ungroups its expenses", func() {
			g := createGroup()

			resp := do("DELETE", "/api/groups/"+g.ID, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()

			ungrouped, _ := service.ListExpenses(Filter{Group: GroupUngrouped})
			Expect(ungrouped).To(HaveLen(2))
		})

		It("returns Not Found for a missing group", func() {
			resp := do("GET", "/api/groups/missing", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("metrics", func() {
		It("serves Prometheus metrics", func() {
			resp := do("GET", "/metrics", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(readBody(resp))).To(ContainSubstring("go_goroutines"))
		})
	})

	Describe("Start and Shutdown", func() {
		It("returns from Start when Shutdown ran first", func() {
			Expect(server.Shutdown(context.Background())).To(Succeed())
			Expect(server.Start("127.0.0.1:0")).To(Succeed())
		})

		It("stops a server shut down right after it was started", func() {
			done := make(chan error, 1)
			go func() { done <- server.Start("127.0.0.1:0") }()

			Expect(server.Shutdown(context.Background())).To(Succeed())

			var startErr error
			Eventually(done).Should(Receive(&startErr))
			Expect(startErr).NotTo(HaveOccurred())
		})

		It("reports a bad listen address", func() {
			Expect(server.Start("not-an-address")).To(HaveOccurred())
		})
	})
})
