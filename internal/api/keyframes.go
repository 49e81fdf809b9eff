package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/star/orrery/internal/cache"
	"github.com/star/orrery/internal/httputil"
)

const (
	defaultRecentFrames = 10
	maxRecentFrames     = 100
)

func latestKeyframeHandler(kc *cache.KeyframeCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kf := kc.GetLatest()
		if kf == nil {
			httputil.WriteError(w, http.StatusNotFound, "no keyframe cached")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toKeyframeJSON(kf))
	}
}

func keyframeAtHandler(kc *cache.KeyframeCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		at, err := time.Parse(time.RFC3339Nano, r.URL.Query().Get("time"))
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "time query parameter must be RFC 3339")
			return
		}

		kf := kc.Get(at)
		if kf == nil {
			httputil.WriteError(w, http.StatusNotFound, "no keyframe cached for "+at.UTC().Format(time.RFC3339))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toKeyframeJSON(kf))
	}
}

func recentKeyframesHandler(kc *cache.KeyframeCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		at := time.Now()
		if s := q.Get("time"); s != "" {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				httputil.WriteError(w, http.StatusBadRequest, "time query parameter must be RFC 3339")
				return
			}
			at = t
		}

		count := defaultRecentFrames
		if s := q.Get("count"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 || n > maxRecentFrames {
				httputil.WriteError(w, http.StatusBadRequest, "count must be between 1 and "+strconv.Itoa(maxRecentFrames))
				return
			}
			count = n
		}

		frames := kc.GetRecent(at, count)
		out := make([]keyframeJSON, len(frames))
		for i, kf := range frames {
			out[i] = toKeyframeJSON(kf)
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"keyframes": out})
	}
}

func cacheStatsHandler(kc *cache.KeyframeCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, toCacheStatsJSON(kc.Stats()))
	}
}
