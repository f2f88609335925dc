package metadata

// System definition names
const (
	VersionEntity    = "version"
	CommitEntity     = "version_commit"
	CommitDataEntity = "version_commit_data"
	UserEntity       = "user"
)

// SystemDefinitions returns the definitions the versioning engine itself writes.
func SystemDefinitions() []Definition {
	return []Definition{
		{
			Name: VersionEntity,
			Fields: []Field{
				{Name: "id", Type: TypeID},
				{Name: "name", Type: TypeString},
				{Name: "createdAt", Type: TypeDateTime},
			},
		},
		{
			Name: CommitEntity,
			Fields: []Field{
				{Name: "id", Type: TypeID},
				{Name: "versionId", Type: TypeID},
				{Name: "userId", Type: TypeID},
				{Name: "isMerge", Type: TypeBool},
				{Name: "message", Type: TypeString},
				{Name: "createdAt", Type: TypeDateTime},
				{
					Name: "data",
					Role: RoleAssociation,
					Association: &Association{
						Referenced:    CommitDataEntity,
						Cardinality:   Many,
						CascadeDelete: true,
						ForeignKey:    "versionCommitId",
					},
				},
			},
		},
		{
			Name: CommitDataEntity,
			Fields: []Field{
				{Name: "id", Type: TypeID},
				{Name: "versionCommitId", Type: TypeID},
				{Name: "entityName", Type: TypeString},
				{Name: "entityId", Type: TypeJSON},
				{Name: "payload", Type: TypeJSON},
				{Name: "userId", Type: TypeID},
				{Name: "action", Type: TypeString},
				{Name: "createdAt", Type: TypeDateTime},
			},
		},
		{
			Name: UserEntity,
			Fields: []Field{
				{Name: "id", Type: TypeID},
				{Name: "username", Type: TypeString},
				{Name: "name", Type: TypeString},
			},
		},
	}
}
