package verifier

const tmplPuyaVerifierGroth16 = `# Code automatically generated - DO NOT EDIT.

import typing

import algopy as py
from algopy import subroutine, BigUInt, Bytes, arc4, urange
from algopy.arc4 import abimethod, DynamicArray, StaticArray, String
from algopy.op import bzero, EllipticCurve as ec, EC

Bytes32: typing.TypeAlias = StaticArray[arc4.Byte, typing.Literal[32]]

#################### Curve parameters ####################

# curve order
R_MOD = 21888242871839275222246405745257275088548364400416034343698204186575808495617

# field order
P_MOD = {{ pmod }}

#################### Verifying key ####################

VK_NB_PUBLIC_INPUTS = {{ nbPublic }}

VK_ALPHA = "{{ g1hex .G1.Alpha }}"
VK_BETA = "{{ g2hex .G2.Beta }}"
VK_GAMMA = "{{ g2hex .G2.Gamma }}"
VK_DELTA = "{{ g2hex .G2.Delta }}"

VK_IC_0 = "{{ g1hex (index .G1.K 0) }}"
VK_IC = "{{ ichex (slice .G1.K 1) }}"

######################################################

class {{ contractName }}(py.ARC4Contract):
	@abimethod(create='require')
	def create(self, name: String) -> None:
		"""On creation, save application name in global state"""
		self.app_name = name
		self.immutable = False

	@abimethod(allow_actions=["UpdateApplication", "DeleteApplication"])
	def update(self) -> None:
		"""Creator can update and delete the application if the immutable
		   property is false."""
		assert not self.immutable
		assert py.Global.creator_address == py.Txn.sender

	@abimethod
	def make_immutable(self) -> None:
		"""Creator can make the contract immutable."""
		assert py.Global.creator_address == py.Txn.sender
		self.immutable = True

	@abimethod
	def verify(self,
	           proof: StaticArray[Bytes32, typing.Literal[8]],
	           public_inputs: DynamicArray[Bytes32],
	           ) -> arc4.Bool:
		"""Verify the proof for the given public inputs.
		   Return a boolean indicating whether the proof is valid"""

		assert public_inputs.length == VK_NB_PUBLIC_INPUTS

		# public inputs must be reduced
		q = BigUInt(R_MOD)
		scalars = Bytes()
		for i in urange(public_inputs.length):
			if BigUInt.from_bytes(public_inputs[i].bytes) >= q:
				return arc4.Bool(False)
			scalars += public_inputs[i].bytes

		A = proof[0].bytes + proof[1].bytes
		B = proof[2].bytes + proof[3].bytes + proof[4].bytes + proof[5].bytes
		C = proof[6].bytes + proof[7].bytes

		L = linear_combination(scalars)
		return arc4.Bool(ec.pairing_check(
			EC.BN254g1,
			negate(A) + Bytes.from_hex(VK_ALPHA) + L + C,
			B + Bytes.from_hex(VK_BETA) + Bytes.from_hex(VK_GAMMA) + Bytes.from_hex(VK_DELTA),
		))

@subroutine
def linear_combination(scalars: Bytes) -> Bytes:
	"""IC_0 + sum(public_input_i * IC_i+1)"""
	{{- if nbPublic }}
	return ec.add(
		EC.BN254g1,
		Bytes.from_hex(VK_IC_0),
		ec.scalar_mul_multi(EC.BN254g1, Bytes.from_hex(VK_IC), scalars),
	)
	{{- else }}
	return Bytes.from_hex(VK_IC_0)
	{{- end }}

@subroutine
def negate(point: Bytes) -> Bytes:
	"""Negate a G1 point, (x, y) -> (x, P - y)"""
	y = BigUInt.from_bytes(point[32:])
	if y == 0:
		return point
	return point[:32] + (bzero(32) | (BigUInt(P_MOD) - y).bytes)
`
