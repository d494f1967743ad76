package stratum

import "testing"

func TestParseSubmitWithFiveParams(t *testing.T) {
	req, ok := ParseRequest([]byte(`{"id":1,"method":"mining.submit","params":["worker1","job-a","00000001","5f5e1000","deadbeef"]}`))
	if !ok {
		t.Fatal("well-formed mining.submit should parse")
	}
	if req.Method != MethodSubmit {
		t.Fatalf("method = %v, want MethodSubmit", req.Method)
	}
	if !req.Valid {
		t.Fatal("mining.submit with 5 params should be valid")
	}
	if len(req.Params) != 5 {
		t.Fatalf("param count = %d, want 5", len(req.Params))
	}
}

func TestParseAuthorizeWithOneParamInvalid(t *testing.T) {
	req, ok := ParseRequest([]byte(`{"id":2,"method":"mining.authorize","params":["worker1"]}`))
	if !ok {
		t.Fatal("parse should succeed structurally")
	}
	if req.Valid {
		t.Fatal("mining.authorize with 1 param should be invalid")
	}
}

func TestParseUnknownMethodInvalid(t *testing.T) {
	req, ok := ParseRequest([]byte(`{"id":3,"method":"mining.teleport","params":[]}`))
	if !ok {
		t.Fatal("parse should succeed structurally even for unknown methods")
	}
	if req.Method != MethodUnknown {
		t.Fatalf("method = %v, want MethodUnknown", req.Method)
	}
	if req.Valid {
		t.Fatal("unknown method should be marked invalid")
	}
}

func TestParseSubscribeNoParams(t *testing.T) {
	req, ok := ParseRequest([]byte(`{"id":4,"method":"mining.subscribe","params":[]}`))
	if !ok || !req.Valid {
		t.Fatal("mining.subscribe with 0 params should be valid")
	}
}

func TestParseStringID(t *testing.T) {
	req, ok := ParseRequest([]byte(`{"id":"42","method":"mining.subscribe","params":[]}`))
	if !ok {
		t.Fatal("string id should parse")
	}
	if req.ID != 42 {
		t.Fatalf("id = %d, want 42", req.ID)
	}
}

func TestParseNullID(t *testing.T) {
	req, ok := ParseRequest([]byte(`{"id":null,"method":"mining.subscribe","params":[]}`))
	if !ok || !req.HasID {
		t.Fatal("null id should count as present with value 0")
	}
	if req.ID != 0 {
		t.Fatalf("id = %d, want 0", req.ID)
	}
}

func TestParseMissingIDRejected(t *testing.T) {
	req, ok := ParseRequest([]byte(`{"method":"mining.subscribe","params":[]}`))
	if !ok {
		t.Fatal("structurally valid object should still parse")
	}
	if req.Valid {
		t.Fatal("a request missing id must be marked invalid")
	}
}

func TestParseMissingMethodRejected(t *testing.T) {
	if _, ok := ParseRequest([]byte(`{"id":1,"params":[]}`)); ok {
		t.Fatal("object without a method key should fail to parse")
	}
}

func TestParseUnterminatedStringRejected(t *testing.T) {
	if _, ok := ParseRequest([]byte(`{"id":1,"method":"mining.subscribe`)); ok {
		t.Fatal("truncated input should fail to parse")
	}
}

func TestParseNotAnObjectRejected(t *testing.T) {
	if _, ok := ParseRequest([]byte(`["mining.subscribe"]`)); ok {
		t.Fatal("top-level array should be rejected")
	}
}

func TestParseOversizeMessageRejected(t *testing.T) {
	big := make([]byte, MaxMessageLen+1)
	for i := range big {
		big[i] = 'a'
	}
	if _, ok := ParseRequest(big); ok {
		t.Fatal("oversize message should be rejected")
	}
}

func TestParseEscapedStringParam(t *testing.T) {
	req, ok := ParseRequest([]byte(`{"id":1,"method":"mining.authorize","params":["worker\\1","pass\"word"]}`))
	if !ok || !req.Valid {
		t.Fatal("escaped characters in string params should parse")
	}
	if req.Params[0] != `worker\1` {
		t.Fatalf("params[0] = %q, want %q", req.Params[0], `worker\1`)
	}
}

func TestParseNumericParamCapturedVerbatim(t *testing.T) {
	req, ok := ParseRequest([]byte(`{"id":1,"method":"mining.configure","params":[123,true,null]}`))
	if !ok || !req.Valid {
		t.Fatal("mining.configure with non-string params should parse and be valid")
	}
	if len(req.Params) != 3 {
		t.Fatalf("param count = %d, want 3", len(req.Params))
	}
	if req.Params[0] != "123" {
		t.Fatalf("params[0] = %q, want %q", req.Params[0], "123")
	}
}

func TestParseUnknownKeySkipped(t *testing.T) {
	req, ok := ParseRequest([]byte(`{"id":1,"extra":{"nested":[1,2,3]},"method":"mining.subscribe","params":[]}`))
	if !ok || !req.Valid {
		t.Fatal("unrecognized keys should be skipped without affecting parsing")
	}
}
