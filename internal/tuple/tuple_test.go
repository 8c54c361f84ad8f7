package tuple

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/authz-sync/internal/errs"
)

func TestFormatters(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		User("u1"):                   "user:u1",
		Organization("o1"):           "organization:o1",
		Artwork("a1"):                "artwork:a1",
		Appraisal("ap1"):             "appraisal:ap1",
		Tag("t1"):                    "nfc_tag:t1",
		OrganizationUsers("o1"):      "organization_users:o1",
		OrganizationSettings("o1"):   "organization_settings:o1",
		Format(TypeSystem, "global"): GlobalObject,
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()

	kind, id, err := Split("artwork:a1")
	require.NoError(t, err)
	require.Equal(t, "artwork", kind)
	require.Equal(t, "a1", id)

	_, id, err = Split("organization:o1#admin")
	require.NoError(t, err)
	require.Equal(t, "o1#admin", id)

	for _, bad := range []string{"", "artwork", ":a1", "artwork:"} {
		if _, _, err := Split(bad); err == nil {
			t.Fatalf("want error for %q", bad)
		}
	}
}

func TestTupleKey_Distinct(t *testing.T) {
	t.Parallel()

	a := New("user:u1", "admin", "organization:o1")
	b := New("user:u1", "staff", "organization:o1")
	require.Equal(t, "user:u1#admin@organization:o1", a.Key())
	require.NotEqual(t, a.Key(), b.Key())
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	for _, r := range Roles {
		got, err := ParseRole(string(r))
		require.NoError(t, err)
		require.Equal(t, r, got)
	}
	_, err := ParseRole("owner")
	require.ErrorIs(t, err, errs.ErrUnknownRole)
}

func TestRoleToRelation_PanicsOnUnknown(t *testing.T) {
	t.Parallel()

	require.Equal(t, "appraiser", RoleToRelation(RoleAppraiser))
	require.Panics(t, func() { RoleToRelation(Role("owner")) })
}

func TestAllRoleTuples(t *testing.T) {
	t.Parallel()

	ts := AllRoleTuples("u1", "o1")
	require.Len(t, ts, len(Roles))
	seen := map[string]bool{}
	for _, tp := range ts {
		require.Equal(t, "user:u1", tp.Subject)
		require.Equal(t, "organization:o1", tp.Object)
		seen[tp.Relation] = true
	}
	require.Len(t, seen, 5)
	require.ElementsMatch(t, []string{"admin", "staff", "viewer", "issuer", "appraiser"}, RoleRelations())
}

func TestPermissionToRelation(t *testing.T) {
	t.Parallel()

	require.Equal(t, RelCanView, PermissionToRelation(PermViewArtworks))
	require.Equal(t, RelCanIssue, PermissionToRelation(PermIssueTags))
	require.Equal(t, RelSuperUser, PermissionToRelation(PermSuperUser))
	// unmapped names are treated as relation names
	require.Equal(t, "admin", PermissionToRelation("admin"))
}

func TestResourceTypeFromPermission(t *testing.T) {
	t.Parallel()

	cases := []struct {
		perm Permission
		want string
		ok   bool
	}{
		{PermUpdateArtworks, TypeArtwork, true},
		{PermDeleteAppraisals, TypeAppraisal, true},
		{PermIssueTags, TypeNFCTag, true},
		{PermManageUsers, TypeOrganizationUsers, true},
		{PermViewSettings, TypeOrganizationSettings, true},
		{PermManageOrganization, TypeOrganization, true},
		{PermManageSystem, TypeSystem, true},
		// legacy fallback for names outside the table
		{"export_artworks", TypeArtwork, true},
		{"print_tag_labels", TypeNFCTag, true},
		{"admin", "", false},
	}
	for _, tc := range cases {
		got, ok := ResourceTypeFromPermission(tc.perm)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s: got (%q,%v), want (%q,%v)", tc.perm, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPermissionTable_Complete(t *testing.T) {
	t.Parallel()

	for _, p := range Permissions() {
		require.True(t, p.Known())
		_, ok := ResourceTypeFromPermission(p)
		require.True(t, ok, "permission %s has no type", p)
	}
}

func TestFormatPermissionCheck(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		perm       Permission
		resourceID string
		orgID      string
		want       Tuple
	}{
		{"resource scoped", PermViewArtworks, "a1", "o1", New("user:u1", "can_view", "artwork:a1")},
		{"resource scoped falls back to org", PermCreateAppraisals, "", "o1", New("user:u1", "can_create", "organization:o1")},
		{"org scoped", PermManageUsers, "", "o1", New("user:u1", "can_manage", "organization_users:o1")},
		{"org scoped from resource id", PermViewSettings, "o2", "", New("user:u1", "can_view", "organization_settings:o2")},
		{"global", PermSuperUser, "", "", New("user:u1", "super_user", GlobalObject)},
		{"bare relation on org", "admin", "", "o1", New("user:u1", "admin", "organization:o1")},
		{"bare relation, org wins over resource", "can_view", "a1", "o1", New("user:u1", "can_view", "organization:o1")},
		{"bare relation on plain resource id", "can_view", "art1", "", New("user:u1", "can_view", "organization:art1")},
		{"bare relation on typed resource", "can_view", "artwork:art1", "", New("user:u1", "can_view", "artwork:art1")},
	}
	for _, tc := range cases {
		got, err := FormatPermissionCheck("u1", tc.perm, tc.resourceID, tc.orgID)
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.want, got, tc.name)
	}
}

func TestFormatPermissionCheck_Errors(t *testing.T) {
	t.Parallel()

	_, err := FormatPermissionCheck("u1", PermViewArtworks, "", "")
	require.ErrorIs(t, err, errs.ErrMissingScope)

	_, err = FormatPermissionCheck("u1", PermManageUsers, "", "")
	require.ErrorIs(t, err, errs.ErrMissingScope)

	_, err = FormatPermissionCheck("u1", "admin", "", "")
	require.ErrorIs(t, err, errs.ErrMissingScope)

	_, err = FormatPermissionCheck("u1", "can_view", "gallery:g1", "")
	require.ErrorIs(t, err, errs.ErrUnknownResourceType)

	_, err = FormatPermissionCheck("u1", "can_view", "artwork:", "")
	require.Error(t, err)
}

func TestSyncTuples(t *testing.T) {
	t.Parallel()

	require.Equal(t, New("organization:o1", "organization", "artwork:a1"), OwnershipTuple(TypeArtwork, "a1", "o1"))
	require.Equal(t, New("user:u1", "creator", "appraisal:ap1"), CreatorTuple(TypeAppraisal, "ap1", "u1"))
	require.Equal(t, New("user:u1", "super_user", "system:global"), SuperUserTuple("u1"))

	st := OrganizationStructureTuples("o1")
	require.Equal(t, []Tuple{
		New("organization:o1", "organization", "organization_users:o1"),
		New("organization:o1", "organization", "organization_settings:o1"),
	}, st)

	typ, err := ObjectTypeForResource("nfc_tag")
	require.NoError(t, err)
	require.Equal(t, TypeNFCTag, typ)
	_, err = ObjectTypeForResource("organization_user")
	require.Error(t, err)
}
