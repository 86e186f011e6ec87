package docdb

import "testing"

func TestEmitKeyFor(t *testing.T) {
	doc := map[string]string{"field3": "user42"}

	if key, ok := EmitDocKey.KeyFor("t-user1", doc); !ok || key != "t-user1" {
		t.Errorf("Expected key view to emit the document id, got %q (ok=%v)", key, ok)
	}
	if key, ok := EmitField("field3").KeyFor("t-user1", doc); !ok || key != "field3user42" {
		t.Errorf("Expected field view to emit field3user42, got %q (ok=%v)", key, ok)
	}
	if _, ok := EmitField("field4").KeyFor("t-user1", doc); ok {
		t.Errorf("Expected documents without the field to be skipped")
	}
	if _, ok := Emit("bogus").KeyFor("t-user1", doc); ok {
		t.Errorf("Expected unknown emit expressions to emit nothing")
	}
}

func TestParseViewDefinitions(t *testing.T) {
	defs, err := ParseViewDefinitions("ycsb/usertable=key, ddoc0/view1=field:field1,")
	if err != nil {
		t.Fatalf("ParseViewDefinitions failed: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("Expected 2 definitions, got %d", len(defs))
	}
	if defs[0] != (ViewDefinition{DesignDoc: "ycsb", View: "usertable", Emit: EmitDocKey}) {
		t.Errorf("Unexpected first definition %s", defs[0])
	}
	if defs[1].ID() != "ddoc0/view1" || defs[1].Emit != EmitField("field1") {
		t.Errorf("Unexpected second definition %s", defs[1])
	}

	for _, bad := range []string{"noequals", "noslash=key", "/v=key", "d/v=value", "d/v=field:"} {
		if _, err := ParseViewDefinitions(bad); err == nil {
			t.Errorf("Expected %q to be rejected", bad)
		}
	}
}

func TestYCSBViews(t *testing.T) {
	defs := YCSBViews("ycsb", []string{"usertable"}, []string{"ddoc0", "ddoc1"}, []string{"view0", "view1", "view2"})
	if len(defs) != 7 {
		t.Fatalf("Expected 7 views, got %d", len(defs))
	}
	if defs[0].ID() != "ycsb/usertable" || defs[0].Emit != EmitDocKey {
		t.Errorf("Expected table key view first, got %s", defs[0])
	}
	// ddoc1/view2 -> offset 1*3+2
	last := defs[6]
	if last.ID() != "ddoc1/view2" || last.Emit != EmitField("field5") {
		t.Errorf("Expected ddoc1/view2 to emit field5, got %s", last)
	}
}
