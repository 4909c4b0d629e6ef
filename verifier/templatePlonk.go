package verifier

const tmplPuyaVerifierPlonk = `# Code automatically generated - DO NOT EDIT.

import typing

import algopy as py
from algopy import subroutine, BigUInt, Bytes, arc4, UInt64, urange
from algopy.arc4 import UInt256, abimethod, DynamicArray, StaticArray, String
from algopy.op import bzero, sha256, EllipticCurve as ec, EC

Bytes32: typing.TypeAlias = StaticArray[arc4.Byte, typing.Literal[32]]

#################### Curve parameters ####################

# curve order
R_MOD = 21888242871839275222246405745257275088548364400416034343698204186575808495617

# field order
P_MOD = {{ pmod }}

#################### Trusted setup ####################

G1_SRS = "{{ g1hex .Kzg.G1 }}"
G2_SRS = "{{ g2hex (index .Kzg.G2 0) }}{{ g2hex (index .Kzg.G2 1) }}"

#################### Verifying key ####################

VK_NB_PUBLIC_INPUTS = {{ .NbPublicVariables }}
VK_DOMAIN_SIZE = {{ .Size }}
VK_INV_DOMAIN_SIZE = {{ frstr .SizeInv }}
VK_OMEGA = {{ frstr .Generator }}
VK_COSET_SHIFT = {{ frstr .CosetShift }}

VK_QL = "{{ g1hex .Ql }}"
VK_QR = "{{ g1hex .Qr }}"
VK_QM = "{{ g1hex .Qm }}"
VK_QO = "{{ g1hex .Qo }}"
VK_QK = "{{ g1hex .Qk }}"
VK_S1 = "{{ g1hex (index .S 0) }}"
VK_S2 = "{{ g1hex (index .S 1) }}"
VK_S3 = "{{ g1hex (index .S 2) }}"

# S1 S2 S3 Ql Qr Qm Qo Qk, as the prover binds them to gamma
VK_TRANSCRIPT = "{{ transcript }}"
# S1 S2, as the prover binds them to the folding challenge
VK_S1_S2_TRANSCRIPT = "{{ encoded (index .S 0) }}{{ encoded (index .S 1) }}"

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
	           proof: StaticArray[Bytes32, typing.Literal[25]],
	           public_inputs: DynamicArray[Bytes32],
	           ) -> arc4.Bool:
		"""Verify the proof for the given public inputs.
		   Return a boolean indicating whether the proof is valid"""

		assert public_inputs.length == VK_NB_PUBLIC_INPUTS

		q = BigUInt(R_MOD)

		# Read proof #
		# wires commitments
		L_COM = proof[0].bytes + proof[1].bytes
		R_COM = proof[2].bytes + proof[3].bytes
		O_COM = proof[4].bytes + proof[5].bytes

		# h = h_0 + x^{n+2}h_1 + x^{2(n+2)}h_2
		H_0 = proof[6].bytes + proof[7].bytes
		H_1 = proof[8].bytes + proof[9].bytes
		H_2 = proof[10].bytes + proof[11].bytes

		# wire and permutation values at zeta
		l_z = BigUInt.from_bytes(proof[12].bytes)
		r_z = BigUInt.from_bytes(proof[13].bytes)
		o_z = BigUInt.from_bytes(proof[14].bytes)
		s1_z = BigUInt.from_bytes(proof[15].bytes)
		s2_z = BigUInt.from_bytes(proof[16].bytes)

		# grand product z(x) and z(omega*zeta)
		Z_COM = proof[17].bytes + proof[18].bytes
		zu = BigUInt.from_bytes(proof[19].bytes)

		# linearised polynomial at zeta
		lin = BigUInt.from_bytes(proof[20].bytes)

		# opening quotients at zeta and at omega*zeta
		BATCH_H = proof[21].bytes + proof[22].bytes
		SHIFTED_H = proof[23].bytes + proof[24].bytes

		### check proof and public inputs are well-formed ###
		if (l_z >= q or r_z >= q or o_z >= q or s1_z >= q or s2_z >= q
				or zu >= q or lin >= q):
			return arc4.Bool(False)

		public_inputs_bytes = Bytes()
		for i in urange(public_inputs.length):
			if BigUInt.from_bytes(public_inputs[i].bytes) >= q:
				return arc4.Bool(False)
			public_inputs_bytes += public_inputs[i].bytes

		### Verify the proof ###

		# Compute the fiat-shamir challenges as the prover (gnark).
		# After deriving all challenges, we need to make them modulo R_MOD.
		gamma_pre = sha256(b'gamma' + Bytes.from_hex(VK_TRANSCRIPT) + public_inputs_bytes
			+ encoded(L_COM) + encoded(R_COM) + encoded(O_COM))
		beta_pre = sha256(b'beta' + gamma_pre)
		alpha_pre = sha256(b'alpha' + beta_pre + encoded(Z_COM))
		zeta_pre = sha256(b'zeta' + alpha_pre + encoded(H_0) + encoded(H_1) + encoded(H_2))

		gamma = curvemod(gamma_pre)
		beta = curvemod(beta_pre)
		alpha = curvemod(alpha_pre)
		zeta = curvemod(zeta_pre)

		# zh is zeta^n - 1, zn is zh / n
		zeta_n = expmod(zeta, BigUInt(VK_DOMAIN_SIZE), q)
		zh = (zeta_n + q - BigUInt(1)) % q
		zn = (zh * BigUInt(VK_INV_DOMAIN_SIZE)) % q

		# PI = sum(w_i * omega^i / n * zh / (zeta - omega^i)), inverting all
		# the (zeta - omega^i) at once
		omega = BigUInt(VK_OMEGA)
		dens = DynamicArray[UInt256]()
		w_ = BigUInt(1)
		for i in urange(VK_NB_PUBLIC_INPUTS):
			dens.append(UInt256((zeta + q - w_) % q))
			w_ = (w_ * omega) % q

		prods = DynamicArray[UInt256]()
		acc = BigUInt(1)
		for d in dens:
			prods.append(UInt256(acc))
			acc = (acc * BigUInt.from_bytes(d.bytes)) % q
		inv = expmod(acc, q - BigUInt(2), q)
		k = UInt64(VK_NB_PUBLIC_INPUTS)
		while k > 0:
			k -= 1
			den = BigUInt.from_bytes(dens[k].bytes)
			dens[k] = UInt256((inv * BigUInt.from_bytes(prods[k].bytes)) % q)
			inv = (inv * den) % q

		PI = BigUInt(0)
		w_ = BigUInt(1)
		for i in urange(VK_NB_PUBLIC_INPUTS):
			li = (BigUInt.from_bytes(dens[i].bytes) * zn) % q
			li = (li * w_) % q
			PI = (PI + (li * BigUInt.from_bytes(public_inputs[i].bytes)) % q) % q
			w_ = (w_ * omega) % q

		# alpha^2 * L1(zeta), L1(zeta) = zh / (n * (zeta - 1))
		l1 = expmod((zeta + q - BigUInt(1)) % q, q - BigUInt(2), q)
		l1 = (l1 * zn) % q
		alpha2_lagrange = (((l1 * alpha) % q) * alpha) % q

		# the opening of the linearised polynomial must be
		# alpha^2*L1 - PI - alpha*(l+beta*s1+gamma)(r+beta*s2+gamma)(o+gamma)*zu
		perm = (((l_z + (beta * s1_z) % q + gamma) % q)
			* ((r_z + (beta * s2_z) % q + gamma) % q)) % q
		t = (perm * ((o_z + gamma) % q)) % q
		t = (t * alpha) % q
		t = (t * zu) % q
		if lin != (alpha2_lagrange + q + q - PI - t) % q:
			return arc4.Bool(False)

		# commitment to the linearised polynomial
		# s1_coef = alpha*beta*zu*(l+beta*s1+gamma)(r+beta*s2+gamma)
		s1_coef = (perm * beta) % q
		s1_coef = (s1_coef * alpha) % q
		s1_coef = (s1_coef * zu) % q

		# coeff_z = alpha^2*L1 - alpha*(l+beta*zeta+gamma)(r+beta*u*zeta+gamma)(o+beta*u^2*zeta+gamma)
		u = BigUInt(VK_COSET_SHIFT)
		beta_zeta = (beta * zeta) % q
		a = (l_z + beta_zeta + gamma) % q
		beta_zeta = (beta_zeta * u) % q
		b = (r_z + beta_zeta + gamma) % q
		beta_zeta = (beta_zeta * u) % q
		c = (o_z + beta_zeta + gamma) % q
		s2_coef = (a * b) % q
		s2_coef = (s2_coef * c) % q
		s2_coef = (s2_coef * alpha) % q
		coeff_z = (alpha2_lagrange + q - s2_coef) % q

		# [H_0] + zeta^{n+2}[H_1] + zeta^{2(n+2)}[H_2], scaled by -zh
		zeta_n2 = (((zeta_n * zeta) % q) * zeta) % q
		folded_h = ec.scalar_mul(EC.BN254g1, H_2, scalar(zeta_n2))
		folded_h = ec.add(EC.BN254g1, folded_h, H_1)
		folded_h = ec.scalar_mul(EC.BN254g1, folded_h, scalar(zeta_n2))
		folded_h = ec.add(EC.BN254g1, folded_h, H_0)

		lin_com = ec.scalar_mul_multi(
			EC.BN254g1,
			Bytes.from_hex(VK_QL) + Bytes.from_hex(VK_QR) + Bytes.from_hex(VK_QM)
			+ Bytes.from_hex(VK_QO) + Bytes.from_hex(VK_S3) + Z_COM + folded_h,
			scalar(l_z) + scalar(r_z) + scalar((l_z * r_z) % q) + scalar(o_z)
			+ scalar(s1_coef) + scalar(coeff_z) + scalar((q - zh) % q),
		)
		lin_com = ec.add(EC.BN254g1, lin_com, Bytes.from_hex(VK_QK))

		# fold the openings at zeta of lin, l, r, o, s1, s2
		fold = curvemod(sha256(b'gamma' + scalar(zeta) + encoded(lin_com)
			+ encoded(L_COM) + encoded(R_COM) + encoded(O_COM)
			+ Bytes.from_hex(VK_S1_S2_TRANSCRIPT)
			+ proof[20].bytes + proof[12].bytes + proof[13].bytes + proof[14].bytes
			+ proof[15].bytes + proof[16].bytes + proof[19].bytes))
		fold2 = (fold * fold) % q
		fold3 = (fold2 * fold) % q
		fold4 = (fold3 * fold) % q
		fold5 = (fold4 * fold) % q

		folded = ec.scalar_mul_multi(
			EC.BN254g1,
			lin_com + L_COM + R_COM + O_COM + Bytes.from_hex(VK_S1) + Bytes.from_hex(VK_S2),
			scalar(BigUInt(1)) + scalar(fold) + scalar(fold2) + scalar(fold3)
			+ scalar(fold4) + scalar(fold5),
		)
		folded_eval = (lin + (fold * l_z) % q + (fold2 * r_z) % q) % q
		folded_eval = (folded_eval + (fold3 * o_z) % q + (fold4 * s1_z) % q) % q
		folded_eval = (folded_eval + (fold5 * s2_z) % q) % q

		# batch the opening at zeta with the opening of z at omega*zeta
		lam = curvemod(sha256(folded + BATCH_H + Z_COM + SHIFTED_H
			+ scalar(zeta) + scalar(fold)))
		claims = (folded_eval + (lam * zu) % q) % q
		zeta_omega = (zeta * omega) % q

		digest = ec.scalar_mul_multi(
			EC.BN254g1,
			folded + Z_COM + Bytes.from_hex(G1_SRS) + BATCH_H + SHIFTED_H,
			scalar(BigUInt(1)) + scalar(lam) + scalar((q - claims) % q)
			+ scalar(zeta) + scalar((lam * zeta_omega) % q),
		)
		quotient = ec.add(EC.BN254g1, BATCH_H, ec.scalar_mul(EC.BN254g1, SHIFTED_H, scalar(lam)))

		return arc4.Bool(ec.pairing_check(
			EC.BN254g1,
			digest + negate(quotient),
			Bytes.from_hex(G2_SRS),
		))

@subroutine
def expmod(base: BigUInt, exponent: BigUInt, modulus: BigUInt) -> BigUInt:
	"""Compute base^exponent % modulus."""
	result = BigUInt(1)
	while exponent > 0:
		if exponent % 2 == 1:
			result = (result * base) % modulus
		exponent = exponent // 2
		base = (base * base) % modulus
	return result

@subroutine
def curvemod(x: Bytes) -> BigUInt:
	"""Compute x % R_MOD."""
	return BigUInt.from_bytes(x) % BigUInt(R_MOD)

@subroutine
def scalar(x: BigUInt) -> Bytes:
	"""x as a 32 bytes big endian word."""
	return bzero(32) | x.bytes

@subroutine
def encoded(point: Bytes) -> Bytes:
	"""A G1 point as gnark marshals it, flagging the point at infinity."""
	if point == bzero(64):
		return Bytes.from_hex("40") + bzero(63)
	return point

@subroutine
def negate(point: Bytes) -> Bytes:
	"""Negate a G1 point, (x, y) -> (x, P - y)"""
	y = BigUInt.from_bytes(point[32:])
	if y == 0:
		return point
	return point[:32] + (bzero(32) | (BigUInt(P_MOD) - y).bytes)
`
