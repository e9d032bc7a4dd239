package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// memCache는 테스트용 인메모리 플레이버 캐시입니다.
type memCache struct {
	mu      sync.Mutex
	flavors map[string]Flavor
}

func newMemCache() *memCache {
	return &memCache{flavors: make(map[string]Flavor)}
}

func (m *memCache) CachedFlavor(_ context.Context, id string) (Flavor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flavors[id]
	return f, ok
}

func (m *memCache) StoreFlavor(_ context.Context, id string, f Flavor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flavors[id] = f
	return nil
}

// modernServer는 신형 플레이버 게이트웨이를 흉내냅니다.
func modernServer(t *testing.T, status map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/instance/connectionState/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return httptest.NewServer(mux)
}

// TestHealth는 자격 증명 누락과 도달 불가의 구분을 검증합니다.
func TestHealth(t *testing.T) {
	ctx := context.Background()

	t.Run("API 키 누락", func(t *testing.T) {
		c := NewClient("http://localhost:1", "")
		if err := c.Health(ctx); !errors.Is(err, ErrNeedsConfig) {
			t.Errorf("Health() = %v, want ErrNeedsConfig", err)
		}
	})

	t.Run("base_url 누락", func(t *testing.T) {
		c := NewClient("", "key")
		if err := c.Health(ctx); !errors.Is(err, ErrNeedsConfig) {
			t.Errorf("Health() = %v, want ErrNeedsConfig", err)
		}
	})

	t.Run("릴레이 도달 가능", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("apikey") != "key" {
				t.Errorf("apikey 헤더 = %q, want %q", r.Header.Get("apikey"), "key")
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "key")
		if err := c.Health(ctx); err != nil {
			t.Errorf("Health() 예상치 못한 에러: %v", err)
		}
	})

	t.Run("401은 자격 증명 문제", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "bad-key")
		if err := c.Health(ctx); !errors.Is(err, ErrNeedsConfig) {
			t.Errorf("Health() = %v, want ErrNeedsConfig", err)
		}
	})

	t.Run("릴레이 다운은 도달 불가", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		c := NewClient(srv.URL, "key")
		if err := c.Health(ctx); !errors.Is(err, ErrUnreachable) {
			t.Errorf("Health() = %v, want ErrUnreachable", err)
		}
	})
}

// TestDetectFlavor는 플레이버 감지와 캐시 동작을 검증합니다.
func TestDetectFlavor(t *testing.T) {
	ctx := context.Background()

	t.Run("신형 게이트웨이 감지", func(t *testing.T) {
		srv := modernServer(t, map[string]any{"instance": map[string]any{"state": "close"}})
		defer srv.Close()

		cache := newMemCache()
		c := NewClient(srv.URL, "key", WithFlavorCache(cache))

		flavor, err := c.DetectFlavor(ctx, "conn-1", false)
		if err != nil {
			t.Fatalf("DetectFlavor() 예상치 못한 에러: %v", err)
		}
		if flavor != FlavorModern {
			t.Errorf("flavor = %q, want %q", flavor, FlavorModern)
		}
		if got, ok := cache.CachedFlavor(ctx, "conn-1"); !ok || got != FlavorModern {
			t.Errorf("캐시 = %q, %v, want %q, true", got, ok, FlavorModern)
		}
	})

	t.Run("신형 경로 404면 구형", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		cache := newMemCache()
		c := NewClient(srv.URL, "key", WithFlavorCache(cache))

		flavor, err := c.DetectFlavor(ctx, "conn-1", false)
		if err != nil {
			t.Fatalf("DetectFlavor() 예상치 못한 에러: %v", err)
		}
		if flavor != FlavorLegacy {
			t.Errorf("flavor = %q, want %q", flavor, FlavorLegacy)
		}
	})

	t.Run("캐시 적중 시 네트워크 호출 없음", func(t *testing.T) {
		var hits int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
		}))
		defer srv.Close()

		cache := newMemCache()
		_ = cache.StoreFlavor(ctx, "conn-1", FlavorLegacy)
		c := NewClient(srv.URL, "key", WithFlavorCache(cache))

		flavor, err := c.DetectFlavor(ctx, "conn-1", false)
		if err != nil {
			t.Fatalf("DetectFlavor() 예상치 못한 에러: %v", err)
		}
		if flavor != FlavorLegacy {
			t.Errorf("flavor = %q, want %q", flavor, FlavorLegacy)
		}
		if hits != 0 {
			t.Errorf("네트워크 호출 횟수 = %d, want 0", hits)
		}
	})

	t.Run("도달 불가 시 신형으로 가정하되 캐시 안 함", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		cache := newMemCache()
		c := NewClient(srv.URL, "key", WithFlavorCache(cache))

		flavor, err := c.DetectFlavor(ctx, "conn-1", false)
		if err != nil {
			t.Fatalf("DetectFlavor() 예상치 못한 에러: %v", err)
		}
		if flavor != FlavorModern {
			t.Errorf("flavor = %q, want %q (fail open)", flavor, FlavorModern)
		}
		if _, ok := cache.CachedFlavor(ctx, "conn-1"); ok {
			t.Error("확인되지 않은 가정은 캐시하면 안 됩니다")
		}
	})
}

// TestCheckStatusModern은 신형 응답 정규화를 검증합니다.
func TestCheckStatusModern(t *testing.T) {
	srv := modernServer(t, map[string]any{
		"instance": map[string]any{
			"state": "open",
			"owner": "821012345678@s.whatsapp.net",
		},
	})
	defer srv.Close()

	c := NewClient(srv.URL, "key", WithFlavorCache(newMemCache()))
	st, err := c.CheckStatus(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("CheckStatus() 예상치 못한 에러: %v", err)
	}
	if !st.Paired {
		t.Error("state=open이면 Paired여야 합니다")
	}
	if st.PhoneNumber != "821012345678" {
		t.Errorf("PhoneNumber = %q, want %q (접미사 제거)", st.PhoneNumber, "821012345678")
	}
	if st.Flavor != FlavorModern {
		t.Errorf("Flavor = %q, want %q", st.Flavor, FlavorModern)
	}
}

// TestCheckStatusLegacy는 구형 응답 정규화를 검증합니다.
func TestCheckStatusLegacy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/conn-1/status-session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"connected": true,
			"status":    "inChat",
			"phone":     "821099998888:12",
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cache := newMemCache()
	_ = cache.StoreFlavor(context.Background(), "conn-1", FlavorLegacy)
	c := NewClient(srv.URL, "key", WithFlavorCache(cache))

	st, err := c.CheckStatus(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("CheckStatus() 예상치 못한 에러: %v", err)
	}
	if !st.Paired || !st.Ready {
		t.Errorf("Paired=%v Ready=%v, want true/true", st.Paired, st.Ready)
	}
	if st.PhoneNumber != "821099998888" {
		t.Errorf("PhoneNumber = %q, want %q", st.PhoneNumber, "821099998888")
	}
}

// TestFlavoredSelfHeal은 캐시된 플레이버가 틀렸을 때 반대 플레이버로
// 재시도하고 캐시를 갱신하는 자가 복구를 검증합니다.
func TestFlavoredSelfHeal(t *testing.T) {
	srv := modernServer(t, map[string]any{"state": "open"})
	defer srv.Close()

	ctx := context.Background()
	cache := newMemCache()
	// 실제로는 신형인데 구형으로 잘못 캐시된 상황
	_ = cache.StoreFlavor(ctx, "conn-1", FlavorLegacy)
	c := NewClient(srv.URL, "key", WithFlavorCache(cache))

	st, err := c.CheckStatus(ctx, "conn-1")
	if err != nil {
		t.Fatalf("CheckStatus() 예상치 못한 에러: %v", err)
	}
	if !st.Paired {
		t.Error("반대 플레이버 재시도가 성공해야 합니다")
	}
	if st.Flavor != FlavorModern {
		t.Errorf("Flavor = %q, want %q", st.Flavor, FlavorModern)
	}
	if got, _ := cache.CachedFlavor(ctx, "conn-1"); got != FlavorModern {
		t.Errorf("캐시가 %q로 갱신되어야 합니다, got %q", FlavorModern, got)
	}
}

// TestEnsureExists는 신형에서만 생성 호출이 일어남을 검증합니다.
func TestEnsureExists(t *testing.T) {
	ctx := context.Background()

	t.Run("없으면 생성", func(t *testing.T) {
		var created bool
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
		mux.HandleFunc("/instance/connectionState/conn-1", func(w http.ResponseWriter, r *http.Request) {
			if created {
				_ = json.NewEncoder(w).Encode(map[string]any{"state": "close"})
				return
			}
			http.NotFound(w, r)
		})
		mux.HandleFunc("/instance/create", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["instanceName"] != "conn-1" {
				t.Errorf("instanceName = %v, want %q", body["instanceName"], "conn-1")
			}
			created = true
			w.WriteHeader(http.StatusCreated)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		cache := newMemCache()
		_ = cache.StoreFlavor(ctx, "conn-1", FlavorModern)
		c := NewClient(srv.URL, "key", WithFlavorCache(cache))

		if err := c.EnsureExists(ctx, "conn-1"); err != nil {
			t.Fatalf("EnsureExists() 예상치 못한 에러: %v", err)
		}
		if !created {
			t.Error("404 응답 후 생성 호출이 일어나야 합니다")
		}
	})

	t.Run("구형은 아무것도 안 함", func(t *testing.T) {
		var hits int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
		}))
		defer srv.Close()

		cache := newMemCache()
		_ = cache.StoreFlavor(ctx, "conn-1", FlavorLegacy)
		c := NewClient(srv.URL, "key", WithFlavorCache(cache))

		if err := c.EnsureExists(ctx, "conn-1"); err != nil {
			t.Fatalf("EnsureExists() 예상치 못한 에러: %v", err)
		}
		if hits != 0 {
			t.Errorf("구형에서는 네트워크 호출이 없어야 합니다, got %d", hits)
		}
	})
}

// TestFetchQR은 중첩 응답에서의 페이로드 추출을 검증합니다.
func TestFetchQR(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/instance/qrcode/conn-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"qrcode": map[string]any{"base64": "aGVsbG8="},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	cache := newMemCache()
	_ = cache.StoreFlavor(ctx, "conn-1", FlavorModern)
	c := NewClient(srv.URL, "key", WithFlavorCache(cache))

	payload, err := c.FetchQR(ctx, "conn-1")
	if err != nil {
		t.Fatalf("FetchQR() 예상치 못한 에러: %v", err)
	}
	if payload != "aGVsbG8=" {
		t.Errorf("payload = %q, want %q", payload, "aGVsbG8=")
	}
}

// TestSendMessage는 전송 실패가 ErrSendFailed로 래핑되는지 검증합니다.
func TestSendMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/message/sendText/conn-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "전송 큐가 가득 찼습니다"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	cache := newMemCache()
	_ = cache.StoreFlavor(ctx, "conn-1", FlavorModern)
	c := NewClient(srv.URL, "key", WithFlavorCache(cache))

	err := c.SendMessage(ctx, "conn-1", "821012345678", "테스트")
	if !errors.Is(err, ErrSendFailed) {
		t.Errorf("SendMessage() = %v, want ErrSendFailed", err)
	}
}
