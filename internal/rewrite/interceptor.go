package rewrite

import (
	"encoding/json"
	"fmt"
)

// interceptorTemplate patches window.fetch and window.XMLHttpRequest so that
// root-relative requests issued after page load go through the proxy too.
// The two %s verbs receive JSON string literals.
const interceptorTemplate = `<script>
(function() {
  var proxyBase = %s;
  var proxyPath = %s;
  function rewrite(url) {
    if (typeof url !== 'string') return url;
    if (url.charAt(0) !== '/' || url.charAt(1) === '/') return url;
    if (url.indexOf(proxyPath) === 0) return url;
    return proxyBase + encodeURIComponent(url);
  }
  function rewriteSameOrigin(u) {
    if (u.origin !== window.location.origin) return null;
    var local = u.pathname + u.search + u.hash;
    var rewritten = rewrite(local);
    return rewritten === local ? null : rewritten;
  }
  var originalFetch = window.fetch;
  if (originalFetch) {
    window.fetch = function(input, init) {
      if (typeof input === 'string') {
        input = rewrite(input);
      } else if (typeof URL !== 'undefined' && input instanceof URL) {
        input = rewriteSameOrigin(input) || input;
      } else if (typeof Request !== 'undefined' && input instanceof Request) {
        var target = rewriteSameOrigin(new URL(input.url));
        if (target) input = new Request(target, input);
      }
      return originalFetch.call(this, input, init);
    };
  }
  var OriginalXHR = window.XMLHttpRequest;
  if (OriginalXHR) {
    var PatchedXHR = function() {
      var xhr = new OriginalXHR();
      var originalOpen = xhr.open;
      xhr.open = function(method, url) {
        var args = Array.prototype.slice.call(arguments);
        args[1] = rewrite(String(url));
        return originalOpen.apply(xhr, args);
      };
      return xhr;
    };
    PatchedXHR.prototype = OriginalXHR.prototype;
    ['UNSENT', 'OPENED', 'HEADERS_RECEIVED', 'LOADING', 'DONE'].forEach(function(k) {
      PatchedXHR[k] = OriginalXHR[k];
    });
    window.XMLHttpRequest = PatchedXHR;
  }
})();
</script>`

// InterceptorScript returns the <script> element injected into every
// rewritten document.
func InterceptorScript(rc Context) string {
	return fmt.Sprintf(interceptorTemplate, jsString(rc.ProxyBase()), jsString(ProxyPath))
}

// jsString quotes s as a JavaScript string literal. encoding/json escapes
// <, > and & so the literal cannot close the surrounding <script>.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		// Marshaling a string cannot fail.
		panic(err)
	}
	return string(b)
}
