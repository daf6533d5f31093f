package types

import (
	"testing"
)

func TestChangeProposal_Validate(t *testing.T) {
	tests := []struct {
		name     string
		proposal ChangeProposal
		wantErr  bool
	}{
		{
			name: "valid update proposal",
			proposal: ChangeProposal{
				TargetID:      "payments-api",
				Field:         "lambdaMemory",
				Environment:   EnvDev,
				OperationKind: OpUpdate,
			},
			wantErr: false,
		},
		{
			name: "valid delete proposal without environment",
			proposal: ChangeProposal{
				TargetID:      "orders-table",
				Field:         "spec.forProvider.tableName",
				OperationKind: OpDelete,
			},
			wantErr: false,
		},
		{
			name: "invalid - missing target",
			proposal: ChangeProposal{
				Field:         "region",
				OperationKind: OpUpdate,
			},
			wantErr: true,
		},
		{
			name: "invalid - missing field",
			proposal: ChangeProposal{
				TargetID:      "payments-api",
				OperationKind: OpUpdate,
			},
			wantErr: true,
		},
		{
			name: "invalid - missing operation kind",
			proposal: ChangeProposal{
				TargetID: "payments-api",
				Field:    "region",
			},
			wantErr: true,
		},
		{
			name: "invalid - unknown operation kind",
			proposal: ChangeProposal{
				TargetID:      "payments-api",
				Field:         "region",
				OperationKind: OperationKind("rename"),
			},
			wantErr: true,
		},
		{
			name: "invalid - unknown environment",
			proposal: ChangeProposal{
				TargetID:      "payments-api",
				Field:         "region",
				Environment:   Environment("qa"),
				OperationKind: OpUpdate,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.proposal.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsInvalidProposal(err) {
				t.Errorf("Validate() error = %v, want InvalidProposalError", err)
			}
		})
	}
}

func TestOperationKind_IsDestructive(t *testing.T) {
	tests := []struct {
		kind OperationKind
		want bool
	}{
		{OpCreate, false},
		{OpUpdate, false},
		{OpDelete, true},
		{OpDestroy, true},
	}

	for _, tt := range tests {
		if got := tt.kind.IsDestructive(); got != tt.want {
			t.Errorf("%s.IsDestructive() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
